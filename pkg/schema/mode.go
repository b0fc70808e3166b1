package schema

// Mode is the policy under which a schema diff is applied: how strict, and
// whether a user migration callback runs.
type Mode int

const (
	ModeAutomatic Mode = iota
	ModeImmutable
	ModeReadOnly
	ModeSoftResetFile
	ModeHardResetFile
	ModeAdditiveDiscovered
	ModeAdditiveExplicit
	ModeManual
)

func (m Mode) String() string {
	switch m {
	case ModeAutomatic:
		return "Automatic"
	case ModeImmutable:
		return "Immutable"
	case ModeReadOnly:
		return "ReadOnly"
	case ModeSoftResetFile:
		return "SoftResetFile"
	case ModeHardResetFile:
		return "HardResetFile"
	case ModeAdditiveDiscovered:
		return "AdditiveDiscovered"
	case ModeAdditiveExplicit:
		return "AdditiveExplicit"
	case ModeManual:
		return "Manual"
	default:
		return "Unknown"
	}
}

// IsAdditive reports whether m is one of the two additive-only modes.
func (m Mode) IsAdditive() bool {
	return m == ModeAdditiveDiscovered || m == ModeAdditiveExplicit
}
