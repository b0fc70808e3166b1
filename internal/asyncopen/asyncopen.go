// Package asyncopen implements the asynchronous-open orchestrator: a
// multi-step, multi-goroutine state machine that waits for an initial
// download, runs a sync schema migration if one is pending, waits for a
// subscription bootstrap, and finally delivers a realm (or an error) to a
// user callback exactly once.
//
// The lifecycle idiom is mu sync.Mutex guarding the session (nil once the
// task is cancelled or completed), the coordinator, and the registered
// notifier tokens; blocking waits take the caller's context. The state transitions
// themselves (download → pending-migration check → upload → pause →
// delete-and-reopen → bootstrap → complete) include a load-bearing
// two-phase cancel: detach the session under the lock, then force-close
// it outside the lock, since force-closing while holding the lock would
// deadlock against an in-flight completion callback trying to acquire
// the same lock.
package asyncopen

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/arkilian/schemaengine/internal/filestore"
	"github.com/arkilian/schemaengine/internal/schemaerr"
)

// ProgressNotifierCallback is invoked with the download progress; the
// orchestrator never inspects the values itself, it just plumbs them
// through to whoever registered.
type ProgressNotifierCallback func(transferredBytes, transferableBytes uint64)

// Realm is the opaque handle the completion callback receives. This
// package never looks inside it — it is produced by Coordinator and
// consumed by the caller.
type Realm any

// Config is the subset of a session's configuration the orchestrator
// needs to decide whether a subscription bootstrap is required.
type Config struct {
	Path                        string
	FlexibleSyncRequested       bool
	SubscriptionInitializer     func(ctx context.Context) error
	RerunInitSubscriptionOnOpen bool
}

// SubscriptionState mirrors sync::SubscriptionSet::State's Complete value;
// the orchestrator only ever compares against SubscriptionComplete.
type SubscriptionState int

const SubscriptionComplete SubscriptionState = 1

// SubscriptionSet reports the state of the session's most recently
// committed subscription set.
type SubscriptionSet interface {
	State() SubscriptionState
	// WaitForState blocks until the subscription set reaches state, or ctx
	// is cancelled.
	WaitForState(ctx context.Context, state SubscriptionState) error
}

// ReadTransaction is the minimal read-side view needed to detect a
// pending sync schema migration.
type ReadTransaction interface {
	HasPendingSchemaMigration() bool
}

// Session is one sync session, bound to a realm file.
type Session interface {
	WaitForDownloadCompletion(ctx context.Context) error
	WaitForUploadCompletion(ctx context.Context) error
	// PauseAndWaitUntilIdle pauses the session and blocks until every
	// internal reference to the underlying database has been released —
	// a precondition for safely deleting the file out from under it.
	PauseAndWaitUntilIdle(ctx context.Context) error
	RegisterProgressNotifier(cb ProgressNotifierCallback) uuid.UUID
	UnregisterProgressNotifier(token uuid.UUID)
	ForceClose()
	Revive()
}

// Coordinator mediates access to the realm file and its (re)opening.
type Coordinator interface {
	Config() Config
	BeginRead() (ReadTransaction, error)
	GetRealm(dbFirstOpen bool) (Realm, error)
	GetUnboundRealm() (Realm, error)
	GetLatestSubscriptionSet() (SubscriptionSet, error)
	Close()
}

// Opener reopens a coordinator and session against the same configuration
// after the realm file has been deleted, continuing a sync schema
// migration at the new schema version.
type Opener interface {
	Reopen(cfg Config) (Coordinator, Session, error)
}

// Callback receives the final result exactly once: either a bound realm
// and a nil error, or a nil realm and a non-nil error.
type Callback func(Realm, error)

// Task is one in-flight async-open operation.
type Task struct {
	opener     Opener
	dbFirstOpen bool

	mu                  sync.Mutex
	session             Session // nil once cancelled or completed
	coordinator         Coordinator
	registeredCallbacks []uuid.UUID
}

// New returns a Task bound to session/coordinator. dbFirstOpen mirrors the
// C++ constructor's db_first_open flag: whether this call is the first
// ever open of the underlying file.
func New(opener Opener, coordinator Coordinator, session Session, dbFirstOpen bool) *Task {
	return &Task{opener: opener, coordinator: coordinator, session: session, dbFirstOpen: dbFirstOpen}
}

// Start begins the download wait and, eventually, invokes callback
// exactly once. It returns immediately; all work happens on background
// goroutines.
func (t *Task) Start(ctx context.Context, callback Callback) {
	t.mu.Lock()
	if t.session == nil {
		t.mu.Unlock()
		return
	}
	session := t.session
	t.mu.Unlock()

	go func() {
		err := session.WaitForDownloadCompletion(ctx)

		t.mu.Lock()
		if t.session == nil {
			t.mu.Unlock()
			return // swallow all events once cancelled
		}
		coordinator := t.coordinator
		t.coordinator = nil
		t.mu.Unlock()

		if err != nil {
			t.asyncOpenComplete(callback, coordinator, err)
			return
		}
		t.migrateSchemaOrComplete(ctx, callback, coordinator)
	}()

	session.Revive()
}

// Cancel detaches the session under the lock, then force-closes it
// outside the lock. Force-closing while holding t.mu would deadlock: it
// can synchronously invoke the in-flight WaitForDownloadCompletion
// callback, which also needs t.mu.
func (t *Task) Cancel() {
	t.mu.Lock()
	if t.session == nil {
		t.mu.Unlock()
		return
	}
	for _, token := range t.registeredCallbacks {
		t.session.UnregisterProgressNotifier(token)
	}
	session := t.session
	t.session = nil
	t.coordinator = nil
	t.registeredCallbacks = nil
	t.mu.Unlock()

	session.ForceClose()
}

// RegisterDownloadProgressNotifier registers cb against the live session,
// if any, returning the token to later unregister it with. Returns the
// zero UUID if the task has already been cancelled or completed.
func (t *Task) RegisterDownloadProgressNotifier(cb ProgressNotifierCallback) uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session == nil {
		return uuid.UUID{}
	}
	token := t.session.RegisterProgressNotifier(cb)
	t.registeredCallbacks = append(t.registeredCallbacks, token)
	return token
}

// UnregisterDownloadProgressNotifier removes a previously registered
// notifier, if the task is still live.
func (t *Task) UnregisterDownloadProgressNotifier(token uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.session != nil {
		t.session.UnregisterProgressNotifier(token)
	}
}

func (t *Task) asyncOpenComplete(callback Callback, coordinator Coordinator, completionErr error) {
	t.mu.Lock()
	if t.session == nil {
		t.mu.Unlock()
		return // Cancel may have run just before this fires.
	}
	for _, token := range t.registeredCallbacks {
		t.session.UnregisterProgressNotifier(token)
	}
	t.session = nil
	t.registeredCallbacks = nil
	t.mu.Unlock()

	if completionErr != nil {
		callback(nil, completionErr)
		return
	}
	realm, err := coordinator.GetUnboundRealm()
	callback(realm, err)
}

func (t *Task) migrateSchemaOrComplete(ctx context.Context, callback Callback, coordinator Coordinator) {
	t.mu.Lock()
	if t.session == nil {
		t.mu.Unlock()
		return
	}
	session := t.session
	t.mu.Unlock()

	rt, err := coordinator.BeginRead()
	pending := err == nil && rt.HasPendingSchemaMigration()

	if !pending {
		t.waitForBootstrapOrComplete(ctx, callback, coordinator, nil)
		return
	}

	cfg := coordinator.Config()
	if cfg.SubscriptionInitializer == nil {
		t.asyncOpenComplete(callback, coordinator, schemaerr.SyncSchemaMigrationError(
			"Sync schema migrations must provide a subscription initializer callback in the sync config."))
		return
	}

	go t.runSchemaMigration(ctx, callback, coordinator, session, cfg)
}

// runSchemaMigration uploads at the old schema version, pauses the
// session, deletes the file, reopens it, and resumes at
// waitForBootstrapOrComplete — the one place a sync schema migration is
// observable from outside the callback.
func (t *Task) runSchemaMigration(ctx context.Context, callback Callback, coordinator Coordinator, session Session, cfg Config) {
	if err := session.WaitForUploadCompletion(ctx); err != nil {
		t.asyncOpenComplete(callback, coordinator, err)
		return
	}

	t.mu.Lock()
	if t.session == nil {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()

	if err := session.PauseAndWaitUntilIdle(ctx); err != nil {
		t.asyncOpenComplete(callback, coordinator, err)
		return
	}

	t.mu.Lock()
	if t.session == nil {
		t.mu.Unlock()
		return
	}
	t.session = nil
	t.mu.Unlock()

	coordinator.Close()

	// t.session is nil from here until the reopen succeeds, so
	// asyncOpenComplete would drop a failure; deliver it directly.
	if err := filestore.Remove(cfg.Path); err != nil {
		callback(nil, err)
		return
	}

	newCoordinator, newSession, err := t.opener.Reopen(cfg)
	if err != nil {
		callback(nil, fmt.Errorf("asyncopen: failed to reopen after schema migration: %w", err))
		return
	}

	t.mu.Lock()
	t.session = newSession
	t.coordinator = newCoordinator
	t.mu.Unlock()

	t.waitForBootstrapOrComplete(ctx, callback, newCoordinator, nil)
}

func (t *Task) waitForBootstrapOrComplete(ctx context.Context, callback Callback, coordinator Coordinator, completionErr error) {
	cfg := coordinator.Config()
	if completionErr == nil && cfg.FlexibleSyncRequested && cfg.SubscriptionInitializer != nil {
		t.attachToSubscriptionInitializer(ctx, callback, coordinator, cfg.RerunInitSubscriptionOnOpen)
		return
	}
	t.asyncOpenComplete(callback, coordinator, completionErr)
}

// attachToSubscriptionInitializer waits on the latest subscription set's
// Complete notification before delivering the realm — unless it is
// already complete and this is not a forced rerun, in which case
// completion happens immediately.
func (t *Task) attachToSubscriptionInitializer(ctx context.Context, callback Callback, coordinator Coordinator, rerunOnLaunch bool) {
	subs, err := coordinator.GetLatestSubscriptionSet()
	if err != nil {
		t.asyncOpenComplete(callback, coordinator, err)
		return
	}

	if subs.State() != SubscriptionComplete || (t.dbFirstOpen && rerunOnLaunch) {
		go func() {
			err := subs.WaitForState(ctx, SubscriptionComplete)
			t.asyncOpenComplete(callback, coordinator, err)
		}()
		return
	}
	t.asyncOpenComplete(callback, coordinator, nil)
}
