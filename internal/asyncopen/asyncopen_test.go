package asyncopen

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type fakeSession struct {
	downloadErr error
	uploadErr   error
	pauseErr    error

	mu           sync.Mutex
	forceClosed  bool
	revived      bool
	registered   int
	unregistered int
}

func (s *fakeSession) WaitForDownloadCompletion(ctx context.Context) error { return s.downloadErr }
func (s *fakeSession) WaitForUploadCompletion(ctx context.Context) error   { return s.uploadErr }
func (s *fakeSession) PauseAndWaitUntilIdle(ctx context.Context) error     { return s.pauseErr }

func (s *fakeSession) RegisterProgressNotifier(cb ProgressNotifierCallback) uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.registered++
	return uuid.New()
}

func (s *fakeSession) UnregisterProgressNotifier(token uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unregistered++
}

func (s *fakeSession) ForceClose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.forceClosed = true
}

func (s *fakeSession) Revive() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.revived = true
}

func (s *fakeSession) wasForceClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.forceClosed
}

func (s *fakeSession) wasRevived() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revived
}

type fakeReadTransaction struct {
	pending bool
}

func (t *fakeReadTransaction) HasPendingSchemaMigration() bool { return t.pending }

type fakeSubscriptionSet struct {
	state   SubscriptionState
	waitErr error
}

func (s *fakeSubscriptionSet) State() SubscriptionState { return s.state }

func (s *fakeSubscriptionSet) WaitForState(ctx context.Context, state SubscriptionState) error {
	return s.waitErr
}

type fakeCoordinator struct {
	cfg          Config
	pending      bool
	beginReadErr error
	unboundRealm Realm
	unboundErr   error
	subs         *fakeSubscriptionSet
	subsErr      error

	mu     sync.Mutex
	closed bool
}

func (c *fakeCoordinator) Config() Config { return c.cfg }

func (c *fakeCoordinator) BeginRead() (ReadTransaction, error) {
	if c.beginReadErr != nil {
		return nil, c.beginReadErr
	}
	return &fakeReadTransaction{pending: c.pending}, nil
}

func (c *fakeCoordinator) GetRealm(dbFirstOpen bool) (Realm, error) {
	return c.unboundRealm, c.unboundErr
}

func (c *fakeCoordinator) GetUnboundRealm() (Realm, error) {
	return c.unboundRealm, c.unboundErr
}

func (c *fakeCoordinator) GetLatestSubscriptionSet() (SubscriptionSet, error) {
	if c.subsErr != nil {
		return nil, c.subsErr
	}
	return c.subs, nil
}

func (c *fakeCoordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *fakeCoordinator) wasClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeOpener struct {
	coordinator Coordinator
	session     Session
	err         error
}

func (o *fakeOpener) Reopen(cfg Config) (Coordinator, Session, error) {
	return o.coordinator, o.session, o.err
}

type callbackResult struct {
	realm Realm
	err   error
}

func awaitCallback(t *testing.T) (Callback, chan callbackResult) {
	t.Helper()
	ch := make(chan callbackResult, 1)
	return func(r Realm, err error) { ch <- callbackResult{r, err} }, ch
}

func recv(t *testing.T, ch chan callbackResult) callbackResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for callback")
		return callbackResult{}
	}
}

func TestTask_Start_SimpleSuccess(t *testing.T) {
	session := &fakeSession{}
	coord := &fakeCoordinator{unboundRealm: "realm-1"}
	task := New(&fakeOpener{}, coord, session, true)

	callback, ch := awaitCallback(t)
	task.Start(context.Background(), callback)

	result := recv(t, ch)
	if result.err != nil {
		t.Fatalf("unexpected error: %v", result.err)
	}
	if result.realm != "realm-1" {
		t.Errorf("realm = %v, want realm-1", result.realm)
	}
	if !session.wasRevived() {
		t.Error("Start should revive the session before waiting")
	}
}

func TestTask_Start_DownloadError(t *testing.T) {
	session := &fakeSession{downloadErr: errors.New("download failed")}
	coord := &fakeCoordinator{}
	task := New(&fakeOpener{}, coord, session, true)

	callback, ch := awaitCallback(t)
	task.Start(context.Background(), callback)

	result := recv(t, ch)
	if result.err == nil {
		t.Fatal("expected a download error to propagate to the callback")
	}
	if result.realm != nil {
		t.Errorf("realm = %v, want nil on error", result.realm)
	}
}

func TestTask_Start_FlexibleSyncBootstrapWaits(t *testing.T) {
	subs := &fakeSubscriptionSet{state: SubscriptionState(0)}
	coord := &fakeCoordinator{
		unboundRealm: "realm-2",
		subs:         subs,
		cfg: Config{
			FlexibleSyncRequested:   true,
			SubscriptionInitializer: func(ctx context.Context) error { return nil },
		},
	}
	session := &fakeSession{}
	task := New(&fakeOpener{}, coord, session, true)

	callback, ch := awaitCallback(t)
	task.Start(context.Background(), callback)

	result := recv(t, ch)
	if result.err != nil {
		t.Fatalf("unexpected error: %v", result.err)
	}
	if result.realm != "realm-2" {
		t.Errorf("realm = %v, want realm-2", result.realm)
	}
}

func TestTask_Start_FlexibleSyncAlreadyComplete(t *testing.T) {
	subs := &fakeSubscriptionSet{state: SubscriptionComplete}
	coord := &fakeCoordinator{
		unboundRealm: "realm-3",
		subs:         subs,
		cfg: Config{
			FlexibleSyncRequested:   true,
			SubscriptionInitializer: func(ctx context.Context) error { return nil },
		},
	}
	session := &fakeSession{}
	task := New(&fakeOpener{}, coord, session, false)

	callback, ch := awaitCallback(t)
	task.Start(context.Background(), callback)

	result := recv(t, ch)
	if result.err != nil {
		t.Fatalf("unexpected error: %v", result.err)
	}
	if result.realm != "realm-3" {
		t.Errorf("realm = %v, want realm-3", result.realm)
	}
}

func TestTask_Start_SchemaMigrationNoInitializerErrors(t *testing.T) {
	coord := &fakeCoordinator{pending: true}
	session := &fakeSession{}
	task := New(&fakeOpener{}, coord, session, true)

	callback, ch := awaitCallback(t)
	task.Start(context.Background(), callback)

	result := recv(t, ch)
	if result.err == nil {
		t.Fatal("expected an error when a schema migration is pending but no subscription initializer is configured")
	}
}

func TestTask_Start_SchemaMigrationReopensAndCompletes(t *testing.T) {
	missingPath := filepath.Join(t.TempDir(), "realm.db")
	oldCoord := &fakeCoordinator{
		pending: true,
		cfg: Config{
			Path:                    missingPath,
			SubscriptionInitializer: func(ctx context.Context) error { return nil },
		},
	}
	oldSession := &fakeSession{}

	newCoord := &fakeCoordinator{unboundRealm: "realm-migrated"}
	newSession := &fakeSession{}
	opener := &fakeOpener{coordinator: newCoord, session: newSession}

	task := New(opener, oldCoord, oldSession, true)

	callback, ch := awaitCallback(t)
	task.Start(context.Background(), callback)

	result := recv(t, ch)
	if result.err != nil {
		t.Fatalf("unexpected error: %v", result.err)
	}
	if result.realm != "realm-migrated" {
		t.Errorf("realm = %v, want realm-migrated", result.realm)
	}
	if !oldCoord.wasClosed() {
		t.Error("the old coordinator should be closed before reopening")
	}
}

func TestTask_Cancel_PreventsLateCallback(t *testing.T) {
	session := &fakeSession{}
	coord := &fakeCoordinator{unboundRealm: "realm-4"}
	task := New(&fakeOpener{}, coord, session, true)

	task.Cancel()

	if !session.wasForceClosed() {
		t.Error("Cancel should force-close the session")
	}

	called := false
	task.Start(context.Background(), func(Realm, error) { called = true })
	time.Sleep(50 * time.Millisecond)
	if called {
		t.Error("Start after Cancel must not invoke the callback")
	}
}

func TestTask_RegisterDownloadProgressNotifier_ZeroAfterCancel(t *testing.T) {
	session := &fakeSession{}
	coord := &fakeCoordinator{}
	task := New(&fakeOpener{}, coord, session, true)

	task.Cancel()

	token := task.RegisterDownloadProgressNotifier(func(uint64, uint64) {})
	if token != (uuid.UUID{}) {
		t.Error("RegisterDownloadProgressNotifier should return the zero UUID once cancelled")
	}
}

func TestTask_RegisterDownloadProgressNotifier_LiveSession(t *testing.T) {
	session := &fakeSession{}
	coord := &fakeCoordinator{}
	task := New(&fakeOpener{}, coord, session, true)

	token := task.RegisterDownloadProgressNotifier(func(uint64, uint64) {})
	if token == (uuid.UUID{}) {
		t.Error("RegisterDownloadProgressNotifier should return a nonzero token for a live session")
	}
	if session.registered != 1 {
		t.Errorf("session.registered = %d, want 1", session.registered)
	}

	task.UnregisterDownloadProgressNotifier(token)
	if session.unregistered != 1 {
		t.Errorf("session.unregistered = %d, want 1", session.unregistered)
	}
}
