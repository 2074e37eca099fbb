package session

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"

	goerrors "github.com/goliatone/go-errors"
	"golang.org/x/sync/singleflight"
)

// SyncOrigin identifies what triggered a trust sync.
type SyncOrigin string

const (
	SyncOriginTimer  SyncOrigin = "timer"
	SyncOriginManual SyncOrigin = "manual"
	SyncOriginEpoch  SyncOrigin = "epoch_start"
)

// SyncOutcome describes what a trust sync did to the session.
type SyncOutcome string

const (
	// SyncOutcomeApplied means the assessment was applied to the session
	SyncOutcomeApplied SyncOutcome = "applied"
	// SyncOutcomeDegraded means the fetch failed and the session is degraded
	SyncOutcomeDegraded SyncOutcome = "degraded"
	// SyncOutcomeDiscarded means the session moved on before the result arrived
	SyncOutcomeDiscarded SyncOutcome = "discarded"
	// SyncOutcomeLoggedOut means the trust endpoint rejected the token
	SyncOutcomeLoggedOut SyncOutcome = "logged_out"
	// SyncOutcomeSkipped means there was no authenticated session to sync
	SyncOutcomeSkipped SyncOutcome = "skipped"
)

// SyncResult is shared by every caller attached to the same sync.
type SyncResult struct {
	Outcome    SyncOutcome
	Generation uint64
	Assessment *TrustAssessment
	// Err is the underlying failure, informational only.
	Err error
	// Shared is true when the result was delivered to more than one caller.
	Shared bool
}

// SyncStats reports synchronizer counters.
type SyncStats struct {
	Fetches int64
	Waiters int64
}

// TrustSource fetches trust assessments. AuthGateway satisfies it.
type TrustSource interface {
	GetTrustAssessment(ctx context.Context) (TrustAssessment, error)
}

// trustTarget is the session owner the synchronizer reports to.
type trustTarget interface {
	syncEpoch() (generation uint64, authenticated bool)
	reconcileTrust(ctx context.Context, generation uint64, assessment TrustAssessment, err error) SyncResult
	// beginFlight registers a fetch as owned background work. done must be
	// called when the fetch returns. ok is false once the owner is closed.
	beginFlight(ctx context.Context) (flightCtx context.Context, done func(), ok bool)
}

// TrustSynchronizer de-duplicates trust assessment fetches per session
// generation and hands results back to the session owner.
type TrustSynchronizer struct {
	source TrustSource
	target trustTarget
	logger Logger
	group  singleflight.Group

	fetches atomic.Int64
	waiters atomic.Int64
}

func newTrustSynchronizer(source TrustSource, target trustTarget, logger Logger) *TrustSynchronizer {
	if logger == nil {
		logger = defLogger{}
	}
	return &TrustSynchronizer{
		source: source,
		target: target,
		logger: logger,
	}
}

// Sync fetches a fresh assessment, or attaches to the fetch already in
// flight for the current generation. The returned error is only ever the
// caller's own context error.
func (s *TrustSynchronizer) Sync(ctx context.Context, origin SyncOrigin) (SyncResult, error) {
	generation, ok := s.target.syncEpoch()
	if !ok {
		return SyncResult{Outcome: SyncOutcomeSkipped, Generation: generation}, nil
	}

	key := "trust:" + strconv.FormatUint(generation, 10)

	ch := s.group.DoChan(key, func() (any, error) {
		flightCtx, done, ok := s.target.beginFlight(ctx)
		if !ok {
			return SyncResult{Outcome: SyncOutcomeDiscarded, Generation: generation}, nil
		}
		defer done()
		return s.fetch(flightCtx, generation, origin), nil
	})

	s.waiters.Add(1)
	defer s.waiters.Add(-1)

	select {
	case <-ctx.Done():
		return SyncResult{Outcome: SyncOutcomeSkipped, Generation: generation}, ctx.Err()
	case res := <-ch:
		result, _ := res.Val.(SyncResult)
		result.Shared = res.Shared
		return result, nil
	}
}

// Stats returns a snapshot of the synchronizer counters.
func (s *TrustSynchronizer) Stats() SyncStats {
	return SyncStats{
		Fetches: s.fetches.Load(),
		Waiters: s.waiters.Load(),
	}
}

func (s *TrustSynchronizer) fetch(ctx context.Context, generation uint64, origin SyncOrigin) (result SyncResult) {
	s.fetches.Add(1)
	s.logger.Debug("trust sync started generation=%d origin=%s", generation, origin)

	defer func() {
		if r := recover(); r != nil {
			err := goerrors.New(fmt.Sprintf("trust source panicked: %v", r), goerrors.CategoryInternal)
			result = s.target.reconcileTrust(ctx, generation, TrustAssessment{}, err)
		}
	}()

	assessment, err := s.source.GetTrustAssessment(ctx)
	return s.target.reconcileTrust(ctx, generation, assessment, err)
}
