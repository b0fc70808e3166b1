// Command schemadiff opens a schemaengine-backed SQLite file, compares its
// live schema against a target schema declared in a YAML or JSON file, and
// either prints the diff or applies it under a chosen schema mode.
//
// Flag parsing and the --version/--help handling use stdlib flag, a
// custom flag.Usage, and version/commit build-time vars.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/arkilian/schemaengine/internal/apply"
	"github.com/arkilian/schemaengine/internal/classifier"
	"github.com/arkilian/schemaengine/internal/config"
	"github.com/arkilian/schemaengine/internal/engine/sqlite"
	"github.com/arkilian/schemaengine/internal/metadata"
	"github.com/arkilian/schemaengine/internal/verify"
	"github.com/arkilian/schemaengine/pkg/schema"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		configFile    string
		enginePath    string
		schemaFile    string
		modeFlag      string
		targetVersion uint64
		doApply       bool
		updateIndexes bool
		showVersion   bool
		showHelp      bool
	)

	flag.StringVar(&configFile, "config", "", "Path to configuration file (YAML or JSON)")
	flag.StringVar(&enginePath, "engine", "", "Path to the SQLite-backed engine file")
	flag.StringVar(&schemaFile, "schema", "", "Path to the target schema file (YAML or JSON)")
	flag.StringVar(&modeFlag, "mode", "", "Schema mode: automatic, immutable, readonly, softresetfile, hardresetfile, additivediscovered, additiveexplicit, manual")
	flag.Uint64Var(&targetVersion, "target-version", 0, "Target schema_version to write on a successful apply")
	flag.BoolVar(&doApply, "apply", false, "Apply the diff instead of only printing it")
	flag.BoolVar(&updateIndexes, "update-indexes", true, "In additive modes, also apply index changes")
	flag.BoolVar(&showVersion, "version", false, "Show version information")
	flag.BoolVar(&showHelp, "help", false, "Show help message")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "schemadiff - schema-evolution diff/apply tool\n\n")
		fmt.Fprintf(os.Stderr, "Usage: schemadiff --engine FILE --schema FILE [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  schemadiff --engine app.db --schema schema.yaml\n")
		fmt.Fprintf(os.Stderr, "  schemadiff --engine app.db --schema schema.yaml --mode automatic --target-version 3 --apply\n")
	}

	flag.Parse()

	if showHelp {
		flag.Usage()
		os.Exit(0)
	}
	if showVersion {
		fmt.Printf("schemadiff version %s (commit: %s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(configFile, enginePath, modeFlag)
	if err != nil {
		log.Fatalf("schemadiff: failed to load configuration: %v", err)
	}
	if enginePath == "" {
		enginePath = cfg.EnginePath()
	}
	if schemaFile == "" {
		log.Fatalf("schemadiff: --schema is required")
	}

	mode, err := cfg.Mode()
	if err != nil {
		log.Fatalf("schemadiff: %v", err)
	}

	target, err := loadTargetSchema(schemaFile)
	if err != nil {
		log.Fatalf("schemadiff: failed to load target schema: %v", err)
	}

	if err := run(enginePath, target, mode, targetVersion, doApply, updateIndexes); err != nil {
		log.Fatalf("schemadiff: %v", err)
	}
}

func run(enginePath string, target schema.Schema, mode schema.Mode, targetVersion uint64, doApply, updateIndexes bool) error {
	eng, err := sqlite.Open(enginePath)
	if err != nil {
		return fmt.Errorf("opening engine: %w", err)
	}
	defer eng.Close()

	tx, err := eng.Begin(context.Background())
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	current, err := metadata.SchemaFromGroup(tx)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("reading current schema: %w", err)
	}

	changes, err := classifier.Compare(current, target)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("classifying changes: %w", err)
	}

	if len(changes) == 0 {
		fmt.Println("no changes")
		tx.Rollback()
		return nil
	}

	fmt.Printf("%d change(s):\n", len(changes))
	for _, c := range changes {
		fmt.Printf("  - %s\n", verify.Describe(c))
	}

	if !doApply {
		tx.Rollback()
		return nil
	}

	opts := apply.Options{UpdateIndexes: updateIndexes}
	if err := apply.ApplySchemaChanges(tx, current, target, changes, mode, targetVersion, nil, opts); err != nil {
		tx.Rollback()
		return fmt.Errorf("applying changes: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}
	fmt.Println("applied")
	return nil
}

func loadConfig(configFile, enginePath, modeFlag string) (*config.Config, error) {
	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = config.DefaultConfig()
	}
	config.LoadFromEnv(cfg)

	if modeFlag != "" {
		cfg.DefaultMode = modeFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// schemaFileFormat is the on-disk declaration format for a target schema.
type schemaFileFormat struct {
	Objects []objectFileFormat `json:"objects" yaml:"objects"`
}

type objectFileFormat struct {
	Name       string             `json:"name" yaml:"name"`
	TableType  string             `json:"table_type" yaml:"table_type"`
	PrimaryKey string             `json:"primary_key" yaml:"primary_key"`
	Properties []propertyFileFormat `json:"properties" yaml:"properties"`
}

type propertyFileFormat struct {
	Name           string `json:"name" yaml:"name"`
	Type           string `json:"type" yaml:"type"`
	Nullable       bool   `json:"nullable" yaml:"nullable"`
	ObjectType     string `json:"object_type" yaml:"object_type"`
	Indexed        bool   `json:"indexed" yaml:"indexed"`
	FullTextIndexed bool  `json:"full_text_indexed" yaml:"full_text_indexed"`
}

func loadTargetSchema(path string) (schema.Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return schema.Schema{}, err
	}
	var file schemaFileFormat
	if err := yaml.Unmarshal(data, &file); err != nil {
		return schema.Schema{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	objects := make([]schema.ObjectSchema, 0, len(file.Objects))
	for _, o := range file.Objects {
		tableType, err := parseTableType(o.TableType)
		if err != nil {
			return schema.Schema{}, fmt.Errorf("object %q: %w", o.Name, err)
		}
		obj := schema.ObjectSchema{Name: o.Name, TableType: tableType, PrimaryKey: o.PrimaryKey}
		for _, p := range o.Properties {
			propType, err := parsePropertyType(p.Type)
			if err != nil {
				return schema.Schema{}, fmt.Errorf("object %q property %q: %w", o.Name, p.Name, err)
			}
			obj.PersistedProperties = append(obj.PersistedProperties, schema.Property{
				Name:                  p.Name,
				Type:                  propType.WithNullable(p.Nullable),
				ObjectType:            p.ObjectType,
				IsPrimary:             p.Name == o.PrimaryKey,
				RequiresIndex:         p.Indexed,
				RequiresFullTextIndex: p.FullTextIndexed,
			})
		}
		objects = append(objects, obj)
	}
	return schema.New(objects...), nil
}

func parseTableType(s string) (schema.TableType, error) {
	switch strings.ToLower(s) {
	case "", "toplevel":
		return schema.TableTypeTopLevel, nil
	case "toplevelasymmetric":
		return schema.TableTypeTopLevelAsymmetric, nil
	case "embedded":
		return schema.TableTypeEmbedded, nil
	default:
		return 0, fmt.Errorf("unknown table_type %q", s)
	}
}

func parsePropertyType(s string) (schema.PropertyType, error) {
	switch strings.ToLower(s) {
	case "int":
		return schema.TypeInt, nil
	case "bool":
		return schema.TypeBool, nil
	case "float":
		return schema.TypeFloat, nil
	case "double":
		return schema.TypeDouble, nil
	case "string":
		return schema.TypeString, nil
	case "date":
		return schema.TypeDate, nil
	case "data":
		return schema.TypeData, nil
	case "object id", "objectid":
		return schema.TypeObjectID, nil
	case "decimal128", "decimal":
		return schema.TypeDecimal, nil
	case "uuid":
		return schema.TypeUUID, nil
	case "mixed":
		return schema.TypeMixed, nil
	case "object":
		return schema.TypeObject, nil
	case "linking objects", "linkingobjects":
		return schema.TypeLinkingObjects, nil
	default:
		return 0, fmt.Errorf("unknown property type %q", s)
	}
}
