package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubTarget struct {
	mu            sync.Mutex
	generation    uint64
	authenticated bool
	reconciled    []error
	closed        bool
	flights       int
}

func (s *stubTarget) syncEpoch() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation, s.authenticated
}

func (s *stubTarget) reconcileTrust(_ context.Context, generation uint64, assessment TrustAssessment, err error) SyncResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconciled = append(s.reconciled, err)
	if err != nil {
		return SyncResult{Outcome: SyncOutcomeDegraded, Generation: generation, Err: err}
	}
	return SyncResult{Outcome: SyncOutcomeApplied, Generation: generation, Assessment: &assessment}
}

func (s *stubTarget) beginFlight(ctx context.Context) (context.Context, func(), bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, nil, false
	}
	s.flights++
	return context.WithoutCancel(ctx), func() {}, true
}

type sourceFunc func(ctx context.Context) (TrustAssessment, error)

func (f sourceFunc) GetTrustAssessment(ctx context.Context) (TrustAssessment, error) {
	return f(ctx)
}

func TestTrustSynchronizerSkipsWithoutSession(t *testing.T) {
	called := false
	source := sourceFunc(func(context.Context) (TrustAssessment, error) {
		called = true
		return TrustAssessment{}, nil
	})
	target := &stubTarget{generation: 4}
	s := newTrustSynchronizer(source, target, nil)

	result, err := s.Sync(context.Background(), SyncOriginManual)
	require.NoError(t, err)
	assert.Equal(t, SyncOutcomeSkipped, result.Outcome)
	assert.Equal(t, uint64(4), result.Generation)
	assert.False(t, called)
	assert.Equal(t, int64(0), s.Stats().Fetches)
}

func TestTrustSynchronizerRecoversSourcePanic(t *testing.T) {
	source := sourceFunc(func(context.Context) (TrustAssessment, error) {
		panic("bad payload")
	})
	target := &stubTarget{generation: 1, authenticated: true}
	s := newTrustSynchronizer(source, target, defLogger{})

	result, err := s.Sync(context.Background(), SyncOriginTimer)
	require.NoError(t, err)
	assert.Equal(t, SyncOutcomeDegraded, result.Outcome)
	require.Len(t, target.reconciled, 1)
	assert.ErrorContains(t, target.reconciled[0], "bad payload")
}

func TestTrustSynchronizerPassesSourceError(t *testing.T) {
	boom := errors.New("boom")
	source := sourceFunc(func(context.Context) (TrustAssessment, error) {
		return TrustAssessment{}, boom
	})
	target := &stubTarget{generation: 2, authenticated: true}
	s := newTrustSynchronizer(source, target, defLogger{})

	result, err := s.Sync(context.Background(), SyncOriginManual)
	require.NoError(t, err)
	assert.Equal(t, SyncOutcomeDegraded, result.Outcome)
	assert.Equal(t, boom, result.Err)
	assert.False(t, result.Shared)
}

func TestTrustSynchronizerKeysFlightsByGeneration(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 2)
	source := sourceFunc(func(context.Context) (TrustAssessment, error) {
		entered <- struct{}{}
		<-release
		return TrustAssessment{TrustScore: 0.5}, nil
	})
	target := &stubTarget{generation: 1, authenticated: true}
	s := newTrustSynchronizer(source, target, defLogger{})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = s.Sync(context.Background(), SyncOriginTimer)
	}()
	<-entered

	target.mu.Lock()
	target.generation = 2
	target.mu.Unlock()

	go func() {
		defer wg.Done()
		_, _ = s.Sync(context.Background(), SyncOriginManual)
	}()
	<-entered

	close(release)
	wg.Wait()
	assert.Equal(t, int64(2), s.Stats().Fetches, "a new generation never joins the old flight")
}

func TestTrustSynchronizerDiscardsOnceTargetClosed(t *testing.T) {
	called := false
	source := sourceFunc(func(context.Context) (TrustAssessment, error) {
		called = true
		return TrustAssessment{}, nil
	})
	target := &stubTarget{generation: 3, authenticated: true, closed: true}
	s := newTrustSynchronizer(source, target, defLogger{})

	result, err := s.Sync(context.Background(), SyncOriginManual)
	require.NoError(t, err)
	assert.Equal(t, SyncOutcomeDiscarded, result.Outcome)
	assert.Equal(t, uint64(3), result.Generation)
	assert.False(t, called)
	assert.Empty(t, target.reconciled)
}

func TestTrustSynchronizerFetchSurvivesCallerCancel(t *testing.T) {
	release := make(chan struct{})
	fetchErr := make(chan error, 1)
	source := sourceFunc(func(ctx context.Context) (TrustAssessment, error) {
		<-release
		fetchErr <- ctx.Err()
		return TrustAssessment{TrustScore: 0.4}, nil
	})
	target := &stubTarget{generation: 1, authenticated: true}
	s := newTrustSynchronizer(source, target, defLogger{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.Sync(ctx, SyncOriginManual)
	require.ErrorIs(t, err, context.Canceled)

	close(release)
	assert.NoError(t, <-fetchErr)
	assert.Equal(t, 1, target.flights)
}
