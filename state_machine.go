package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/google/uuid"
)

// Listener is notified with the published snapshot after every transition.
// Listeners run on the goroutine that caused the transition and must not
// block; they may read the machine but should not call mutating operations
// synchronously.
type Listener func(Session)

// MachineOption customizes machine construction.
type MachineOption func(*Machine)

// WithLogger overrides the logger.
func WithLogger(logger Logger) MachineOption {
	return func(m *Machine) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) MachineOption {
	return func(m *Machine) {
		if clock != nil {
			m.now = clock
		}
	}
}

// WithActivitySink sets the ActivitySink used to publish session events.
func WithActivitySink(sink ActivitySink) MachineOption {
	return func(m *Machine) {
		m.activitySink = normalizeActivitySink(sink)
	}
}

// WithCredentialStore sets the credential store. Defaults to a
// MemoryCredentialStore.
func WithCredentialStore(store CredentialStore) MachineOption {
	return func(m *Machine) {
		if store != nil {
			m.store = store
		}
	}
}

// WithSyncInterval overrides the periodic trust sync cadence.
func WithSyncInterval(d time.Duration) MachineOption {
	return func(m *Machine) {
		if d > 0 {
			m.syncInterval = d
		}
	}
}

// WithTickerFactory overrides how the periodic sync ticker is created.
func WithTickerFactory(factory TickerFactory) MachineOption {
	return func(m *Machine) {
		if factory != nil {
			m.tickerFactory = factory
		}
	}
}

// WithConfig applies cfg values.
func WithConfig(cfg Config) MachineOption {
	return func(m *Machine) {
		if cfg == nil {
			return
		}
		if d := cfg.GetSyncInterval(); d > 0 {
			m.syncInterval = d
		}
		if d := cfg.GetTokenLeeway(); d >= 0 {
			m.tokenLeeway = d
		}
	}
}

// Machine owns the authoritative Session. It is the only writer of session
// state; every asynchronous result is checked against the generation it was
// started under before being applied.
type Machine struct {
	gateway       AuthGateway
	keys          KeyLoader
	store         CredentialStore
	logger        Logger
	activitySink  ActivitySink
	now           func() time.Time
	syncInterval  time.Duration
	tokenLeeway   time.Duration
	tickerFactory TickerFactory

	scheduler *Scheduler
	trust     *TrustSynchronizer

	// credMu serializes epoch changes with their credential store and
	// gateway I/O. It is always taken before mu.
	credMu sync.Mutex

	mu           sync.Mutex
	session      Session
	listeners    map[uint64]Listener
	nextListener uint64
	closed       bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewMachine returns a machine in StateInitializing. keys may be nil.
func NewMachine(gateway AuthGateway, keys KeyLoader, opts ...MachineOption) *Machine {
	if keys == nil {
		keys = noopKeyLoader{}
	}

	m := &Machine{
		gateway:       gateway,
		keys:          keys,
		logger:        defLogger{},
		activitySink:  noopActivitySink{},
		now:           time.Now,
		syncInterval:  DefaultSyncInterval,
		tokenLeeway:   DefaultTokenLeeway,
		tickerFactory: NewRealTicker,
		session:       Session{State: StateInitializing},
		listeners:     map[uint64]Listener{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}

	if m.store == nil {
		m.store = NewMemoryCredentialStore(
			WithStoreLeeway(m.tokenLeeway),
			WithStoreClock(m.now),
		)
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.scheduler = NewScheduler(m.syncInterval, m.tickerFactory)
	m.trust = newTrustSynchronizer(gateway, m, m.logger)

	return m
}

// CurrentSnapshot returns a copy of the session.
func (m *Machine) CurrentSnapshot() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.clone()
}

// Subscribe registers l for transition notifications. The returned function
// removes it and is safe to call more than once.
func (m *Machine) Subscribe(l Listener) func() {
	if l == nil {
		return func() {}
	}

	m.mu.Lock()
	id := m.nextListener
	m.nextListener++
	m.listeners[id] = l
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// Initialize restores a session from the credential store when the stored
// token is still valid. Restoration fails safe: any error clears the
// credential store and leaves the session unauthenticated.
func (m *Machine) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.session.State != StateInitializing {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	principal, ok, err := m.restore(ctx)
	if err != nil {
		m.logger.Error("session restore failed, clearing credentials: %v", err)
		m.recordActivity(ctx, ActivityEvent{
			EventType: ActivityEventRestoreFailed,
			FromState: StateInitializing,
			ToState:   StateUnauthenticated,
			Metadata:  map[string]any{"error": err.Error()},
		})
	}

	m.credMu.Lock()
	m.mu.Lock()
	decided := m.session.State != StateInitializing
	m.mu.Unlock()
	if decided {
		// a login or logout already decided the session
		m.credMu.Unlock()
		return nil
	}

	if err != nil || !ok {
		if err != nil {
			m.clearCredentials(ctx)
		}
		m.mu.Lock()
		m.session.State = StateUnauthenticated
		pub := m.commitLocked()
		m.mu.Unlock()
		m.credMu.Unlock()
		pub.deliver(m.logger)
		return nil
	}

	m.mu.Lock()
	generation := m.establishLocked(principal)
	pub := m.commitLocked()
	m.mu.Unlock()
	m.credMu.Unlock()

	pub.deliver(m.logger)
	m.recordActivity(ctx, ActivityEvent{
		EventType:   ActivityEventRestored,
		PrincipalID: principal.ID,
		Generation:  generation,
		FromState:   StateInitializing,
		ToState:     StateAuthenticated,
	})
	m.kickEpoch(generation)
	return nil
}

// Login authenticates with the gateway. Failures leave the session
// untouched and are returned to the caller.
func (m *Machine) Login(ctx context.Context, credentials LoginCredentials) error {
	if err := credentials.Validate(); err != nil {
		m.recordLoginFailure(ctx, ActivityEventLoginFailure, credentials.Email, err)
		return err
	}

	generation, err := m.beginAuthentication()
	if err != nil {
		return err
	}

	result, err := m.gateway.Login(ctx, normalizeEmail(credentials.Email), credentials.Password, credentials.MFACode)
	if err != nil {
		m.logger.Error("login failed: %v", err)
		m.recordLoginFailure(ctx, ActivityEventLoginFailure, credentials.Email, err)
		return err
	}

	return m.authenticate(ctx, generation, result, ActivityEventLoginSuccess)
}

// Register creates an account through the gateway and authenticates with
// the returned principal. Same transition contract as Login.
func (m *Machine) Register(ctx context.Context, data RegistrationData) error {
	if err := data.Validate(); err != nil {
		m.recordLoginFailure(ctx, ActivityEventRegisterFailure, data.Email, err)
		return err
	}

	generation, err := m.beginAuthentication()
	if err != nil {
		return err
	}

	data.Email = normalizeEmail(data.Email)
	result, err := m.gateway.Register(ctx, data)
	if err != nil {
		m.logger.Error("registration failed: %v", err)
		m.recordLoginFailure(ctx, ActivityEventRegisterFailure, data.Email, err)
		return err
	}

	return m.authenticate(ctx, generation, result, ActivityEventRegisterSuccess)
}

// Logout ends the current epoch. It is a no-op when already unauthenticated.
func (m *Machine) Logout(ctx context.Context) error {
	m.logout(ctx, nil, "user logout")
	return nil
}

// RefreshPrincipal re-fetches the principal record. Unauthorized forces a
// logout; other errors keep the previous principal. Errors are returned.
func (m *Machine) RefreshPrincipal(ctx context.Context) error {
	generation, ok := m.syncEpoch()
	if !ok {
		return ErrNotAuthenticated.Clone()
	}

	principal, err := m.gateway.GetMe(ctx)
	if err != nil {
		if IsUnauthorizedError(err) {
			m.logout(ctx, &generation, "principal refresh unauthorized")
			return err
		}
		m.logger.Warn("principal refresh failed, keeping previous principal: %v", err)
		return err
	}

	principal = principal.normalized()

	m.credMu.Lock()
	if _, ok := m.currentGeneration(generation); !ok {
		m.credMu.Unlock()
		m.logger.Debug("discarding principal refresh for stale generation=%d", generation)
		return nil
	}

	if err := m.store.SavePrincipal(ctx, principal); err != nil {
		m.logger.Warn("credential store failed to save principal: %v", err)
	}

	m.mu.Lock()
	previous := m.session.Principal
	m.session.Principal = &principal
	state := m.session.State
	pub := m.commitLocked()
	m.mu.Unlock()
	m.credMu.Unlock()

	pub.deliver(m.logger)

	meta := map[string]any{"role": string(principal.Role)}
	if previous != nil && previous.Role != principal.Role {
		meta["previous_role"] = string(previous.Role)
	}
	m.recordActivity(ctx, ActivityEvent{
		EventType:   ActivityEventPrincipalRefreshed,
		PrincipalID: principal.ID,
		Generation:  generation,
		FromState:   state,
		ToState:     state,
		Metadata:    meta,
	})
	return nil
}

// ForceTrustSync runs a trust sync now, or attaches to the one in flight.
// Sync failures are reported through SyncResult.Outcome; the error is only
// ctx's own error.
func (m *Machine) ForceTrustSync(ctx context.Context) (SyncResult, error) {
	return m.trust.Sync(ctx, SyncOriginManual)
}

// SyncStats exposes trust synchronizer counters.
func (m *Machine) SyncStats() SyncStats {
	return m.trust.Stats()
}

// Close stops the periodic sync, cancels in-flight trust fetches and waits
// for background work started by the machine. Results arriving after Close
// are discarded and the session value is left as is.
func (m *Machine) Close() {
	m.mu.Lock()
	m.closed = true
	m.scheduler.Stop()
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
	m.scheduler.Wait()
}

func (m *Machine) restore(ctx context.Context) (principal Principal, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = goerrors.New(fmt.Sprintf("panic during session restore: %v", r), goerrors.CategoryInternal)
			ok = false
		}
	}()

	if !m.store.HasValidToken(ctx) || !m.gateway.IsAuthenticated() {
		return Principal{}, false, nil
	}

	principal, ok, err = m.store.Principal(ctx)
	if err != nil {
		return Principal{}, false, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to read cached principal")
	}
	if !ok || principal.ID == "" {
		return Principal{}, false, goerrors.New("valid token without cached principal", goerrors.CategoryInternal)
	}
	return principal.normalized(), true, nil
}

func (m *Machine) beginAuthentication() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session.State.IsAuthenticated() {
		return 0, withMetadata(ErrAlreadyAuthenticated, map[string]any{
			"state": string(m.session.State),
		})
	}
	return m.session.Generation, nil
}

func (m *Machine) authenticate(ctx context.Context, generation uint64, result AuthResult, event ActivityEventType) error {
	if result.Principal.ID == "" {
		err := NewAuthError(errors.New("gateway returned an empty principal"))
		m.recordLoginFailure(ctx, failureFor(event), result.Principal.Email, err)
		return err
	}

	principal := result.Principal.normalized()

	m.credMu.Lock()
	m.mu.Lock()
	authenticated := m.session.State.IsAuthenticated()
	superseded := m.session.Generation != generation || authenticated
	m.mu.Unlock()

	if superseded {
		if !authenticated {
			// a logout raced the request; drop whatever token the gateway kept
			m.dropGatewayToken(ctx, "superseded login")
		}
		m.credMu.Unlock()
		return withMetadata(ErrSessionSuperseded, map[string]any{
			"generation": generation,
		})
	}

	if err := m.store.Save(ctx, result.Token, principal); err != nil {
		// the session stays unauthenticated so the gateway must not keep the token
		m.dropGatewayToken(ctx, "credential save failure")
		m.credMu.Unlock()
		err = goerrors.Wrap(err, goerrors.CategoryInternal, "failed to store credentials")
		m.recordLoginFailure(ctx, failureFor(event), principal.Email, err)
		return err
	}

	m.mu.Lock()
	from := m.session.State
	next := m.establishLocked(principal)
	pub := m.commitLocked()
	m.mu.Unlock()
	m.credMu.Unlock()

	pub.deliver(m.logger)
	m.recordActivity(ctx, ActivityEvent{
		EventType:   event,
		PrincipalID: principal.ID,
		Generation:  next,
		FromState:   from,
		ToState:     StateAuthenticated,
		Metadata:    map[string]any{"role": string(principal.Role)},
	})
	m.kickEpoch(next)
	return nil
}

// establishLocked starts a new authenticated epoch and binds the periodic
// sync to it. Requires mu.
func (m *Machine) establishLocked(principal Principal) uint64 {
	m.session.Generation++
	p := principal
	m.session.Principal = &p
	m.session.TrustScore = nil
	m.session.LastSyncedAt = nil
	m.session.State = StateAuthenticated

	if !m.closed {
		m.scheduler.Start(m.ctx, m.session.Generation, m.onTick)
	}
	return m.session.Generation
}

// kickEpoch starts key loading and the first trust sync of an epoch.
func (m *Machine) kickEpoch(generation uint64) {
	m.goBackground(func(ctx context.Context) {
		m.loadKeys(ctx, generation)
	})
	m.goBackground(func(ctx context.Context) {
		if _, ok := m.currentGeneration(generation); !ok {
			return
		}
		if _, err := m.trust.Sync(ctx, SyncOriginEpoch); err != nil {
			m.logger.Debug("initial trust sync abandoned: %v", err)
		}
	})
}

func (m *Machine) loadKeys(ctx context.Context, generation uint64) {
	if _, ok := m.currentGeneration(generation); !ok {
		return
	}

	err := m.keys.LoadPrivateKeys(ctx)
	if err == nil {
		return
	}

	if IsUnauthorizedError(err) {
		m.logout(ctx, &generation, "key loading unauthorized")
		return
	}

	m.logger.Warn("private key loading failed: %v", err)
	m.recordActivity(ctx, ActivityEvent{
		EventType:  ActivityEventKeysFailed,
		Generation: generation,
		Metadata:   map[string]any{"error": err.Error()},
	})
}

func (m *Machine) onTick(ctx context.Context, epoch uint64) {
	if _, ok := m.currentGeneration(epoch); !ok {
		return
	}

	if !m.tokenValid(ctx) {
		m.logger.Info("session token no longer valid, logging out generation=%d", epoch)
		m.logout(ctx, &epoch, "token expired")
		return
	}

	if _, err := m.trust.Sync(ctx, SyncOriginTimer); err != nil {
		m.logger.Debug("scheduled trust sync abandoned: %v", err)
	}
}

func (m *Machine) tokenValid(ctx context.Context) bool {
	return m.store.HasValidToken(ctx) && m.gateway.IsAuthenticated()
}

// syncEpoch implements trustTarget.
func (m *Machine) syncEpoch() (uint64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Generation, m.session.State.IsAuthenticated()
}

// currentGeneration reports whether generation is still the authenticated epoch.
func (m *Machine) currentGeneration(generation uint64) (uint64, bool) {
	current, ok := m.syncEpoch()
	return current, ok && current == generation
}

// reconcileTrust implements trustTarget.
func (m *Machine) reconcileTrust(ctx context.Context, generation uint64, assessment TrustAssessment, err error) SyncResult {
	m.mu.Lock()
	if m.closed || m.session.Generation != generation || !m.session.State.IsAuthenticated() {
		current := m.session.Generation
		m.mu.Unlock()
		m.logger.Debug("discarding trust result for generation=%d current=%d", generation, current)
		m.recordActivity(ctx, ActivityEvent{
			EventType:  ActivityEventTrustDiscarded,
			Generation: generation,
			Metadata:   map[string]any{"current_generation": current},
		})
		return SyncResult{Outcome: SyncOutcomeDiscarded, Generation: generation, Err: err}
	}

	if err == nil {
		err = assessment.Validate()
	}

	if err != nil {
		if IsUnauthorizedError(err) {
			m.mu.Unlock()
			m.logout(ctx, &generation, "trust assessment unauthorized")
			return SyncResult{Outcome: SyncOutcomeLoggedOut, Generation: generation, Err: err}
		}

		from := m.session.State
		var pub publication
		if from != StateDegraded {
			m.session.State = StateDegraded
			pub = m.commitLocked()
		}
		principalID := m.session.Principal.ID
		m.mu.Unlock()

		m.logger.Warn("trust sync failed, session degraded: %v", err)
		pub.deliver(m.logger)
		m.recordActivity(ctx, ActivityEvent{
			EventType:   ActivityEventTrustDegraded,
			PrincipalID: principalID,
			Generation:  generation,
			FromState:   from,
			ToState:     StateDegraded,
			Metadata:    map[string]any{"error": err.Error()},
		})
		return SyncResult{Outcome: SyncOutcomeDegraded, Generation: generation, Err: err}
	}

	assessment = assessment.normalized()
	score := assessment.TrustScore
	syncedAt := m.now()

	from := m.session.State
	principal := *m.session.Principal
	principal.TrustScore = score
	m.session.Principal = &principal
	m.session.TrustScore = &score
	m.session.LastSyncedAt = &syncedAt
	m.session.State = StateAuthenticated
	pub := m.commitLocked()
	m.mu.Unlock()

	m.logger.Debug("trust assessment applied generation=%d: %s", generation, print.MaybePrettyJSON(assessment))
	pub.deliver(m.logger)
	m.recordActivity(ctx, ActivityEvent{
		EventType:   ActivityEventTrustSynced,
		PrincipalID: principal.ID,
		Generation:  generation,
		FromState:   from,
		ToState:     StateAuthenticated,
		Metadata: map[string]any{
			"assessment_id": assessment.AssessmentID,
			"trust_score":   score,
			"trust_level":   assessment.TrustLevel.String(),
		},
	})
	return SyncResult{Outcome: SyncOutcomeApplied, Generation: generation, Assessment: &assessment}
}

// logout ends the current epoch. When expected is set the logout only
// happens if that generation is still current.
func (m *Machine) logout(ctx context.Context, expected *uint64, reason string) bool {
	m.credMu.Lock()
	m.mu.Lock()
	if (expected != nil && *expected != m.session.Generation) || m.session.State == StateUnauthenticated {
		m.mu.Unlock()
		m.credMu.Unlock()
		return false
	}

	from := m.session.State
	var principalID string
	if m.session.Principal != nil {
		principalID = m.session.Principal.ID
	}

	m.session.Generation++
	m.session.Principal = nil
	m.session.TrustScore = nil
	m.session.LastSyncedAt = nil
	m.session.State = StateUnauthenticated
	m.scheduler.Stop()

	generation := m.session.Generation
	pub := m.commitLocked()
	m.mu.Unlock()

	m.clearCredentials(ctx)
	m.credMu.Unlock()

	m.logger.Info("session logged out reason=%q", reason)
	pub.deliver(m.logger)
	m.recordActivity(ctx, ActivityEvent{
		EventType:   ActivityEventLogout,
		PrincipalID: principalID,
		Generation:  generation,
		FromState:   from,
		ToState:     StateUnauthenticated,
		Metadata:    map[string]any{"reason": reason},
	})
	return true
}

// clearCredentials drops gateway and store credentials. Requires credMu.
func (m *Machine) clearCredentials(ctx context.Context) {
	m.dropGatewayToken(ctx, "clear")
	if err := m.store.Clear(ctx); err != nil {
		m.logger.Warn("credential store clear failed: %v", err)
	}
}

func (m *Machine) dropGatewayToken(ctx context.Context, reason string) {
	if err := m.gateway.Logout(ctx); err != nil {
		m.logger.Warn("gateway logout failed reason=%q: %v", reason, err)
	}
}

// beginFlight implements trustTarget. The fetch context ignores the
// caller's cancellation and is cancelled by Close instead.
func (m *Machine) beginFlight(ctx context.Context) (context.Context, func(), bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, nil, false
	}
	m.wg.Add(1)

	flightCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(m.ctx, cancel)
	return flightCtx, func() {
		stop()
		cancel()
		m.wg.Done()
	}, true
}

func (m *Machine) goBackground(fn func(ctx context.Context)) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		fn(m.ctx)
	}()
}

type publication struct {
	snapshot  Session
	listeners []Listener
}

// commitLocked bumps the revision and captures what to deliver once mu is
// released. Requires mu.
func (m *Machine) commitLocked() publication {
	m.session.Revision++

	ids := make([]uint64, 0, len(m.listeners))
	for id := range m.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	listeners := make([]Listener, 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, m.listeners[id])
	}

	return publication{
		snapshot:  m.session.clone(),
		listeners: listeners,
	}
}

func (p publication) deliver(logger Logger) {
	for _, l := range p.listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.Error("session listener panicked: %v", r)
				}
			}()
			l(p.snapshot.clone())
		}()
	}
}

func (m *Machine) recordActivity(ctx context.Context, event ActivityEvent) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = m.now()
	}

	sink := normalizeActivitySink(m.activitySink)
	if err := sink.Record(ctx, event); err != nil {
		m.logger.Warn("session activity sink error: %v", err)
	}
}

func (m *Machine) recordLoginFailure(ctx context.Context, event ActivityEventType, email string, err error) {
	m.mu.Lock()
	state := m.session.State
	generation := m.session.Generation
	m.mu.Unlock()

	m.recordActivity(ctx, ActivityEvent{
		EventType:  event,
		Generation: generation,
		FromState:  state,
		ToState:    state,
		Metadata: map[string]any{
			"email": normalizeEmail(email),
			"error": err.Error(),
		},
	})
}

func failureFor(event ActivityEventType) ActivityEventType {
	if event == ActivityEventRegisterSuccess {
		return ActivityEventRegisterFailure
	}
	return ActivityEventLoginFailure
}

// HasRole checks the current principal role
func (m *Machine) HasRole(role Role) bool {
	return EvaluatorFor(m.CurrentSnapshot()).HasRole(role)
}

// HasAnyRole checks the current principal role against roles
func (m *Machine) HasAnyRole(roles ...Role) bool {
	return EvaluatorFor(m.CurrentSnapshot()).HasAnyRole(roles...)
}

func (m *Machine) IsAdmin() bool {
	return EvaluatorFor(m.CurrentSnapshot()).IsAdmin()
}

func (m *Machine) CanManageUsers() bool {
	return EvaluatorFor(m.CurrentSnapshot()).CanManageUsers()
}

func (m *Machine) CanViewAuditLogs() bool {
	return EvaluatorFor(m.CurrentSnapshot()).CanViewAuditLogs()
}

func (m *Machine) CanManageAutomation() bool {
	return EvaluatorFor(m.CurrentSnapshot()).CanManageAutomation()
}
