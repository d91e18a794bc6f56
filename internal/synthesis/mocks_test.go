// Package synthesis_test tests job submission, awaiting and the HTTP client.
package synthesis_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/stretchr/testify/require"
)

var (
	testEpoch       = time.Date(2026, time.March, 14, 9, 26, 53, 0, time.UTC)
	errMockNetwork  = errors.New("mock connection refused")
	errMockAdmit    = errors.New("mock admission failure")
	errMockPollOnce = errors.New("mock poll failure")
)

func newTestLogger(t *testing.T) *logger.Logger {
	t.Helper()

	testLogger, err := logger.New(t.TempDir(), "synthesis-test.log")
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = testLogger.Close()
	})

	return testLogger
}

// mockService is a scripted core.SynthesisService.
type mockService struct {
	mu sync.Mutex
	// startErrs is consumed one entry per StartSynthesis call; once empty
	// every call succeeds.
	startErrs []error
	// operations is consumed one entry per GetOperation call; the last
	// entry repeats.
	operations []core.Operation
	// pollErrs is consumed one entry per GetOperation call before
	// operations.
	pollErrs   []error
	requests   []core.SynthesisRequest
	startCalls int
	pollCalls  int
}

func (m *mockService) StartSynthesis(_ context.Context, req core.SynthesisRequest) (core.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.startCalls++
	m.requests = append(m.requests, req)

	if len(m.startErrs) > 0 {
		err := m.startErrs[0]
		m.startErrs = m.startErrs[1:]

		if err != nil {
			return core.Operation{}, err
		}
	}

	return core.Operation{Name: "operations/" + req.OutputKey, Done: false, ErrorMessage: ""}, nil
}

func (m *mockService) GetOperation(_ context.Context, name string) (core.Operation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.pollCalls++

	if len(m.pollErrs) > 0 {
		err := m.pollErrs[0]
		m.pollErrs = m.pollErrs[1:]

		if err != nil {
			return core.Operation{}, err
		}
	}

	if len(m.operations) == 0 {
		return core.Operation{Name: name, Done: false, ErrorMessage: ""}, nil
	}

	op := m.operations[0]
	if len(m.operations) > 1 {
		m.operations = m.operations[1:]
	}

	op.Name = name

	return op, nil
}

// countingAdmitter admits every call unless admitErr is set.
type countingAdmitter struct {
	mu       sync.Mutex
	calls    int
	admitErr error
}

func (a *countingAdmitter) Admit(_ context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls++

	return a.admitErr
}

func repeatErr(err error, n int) []error {
	errs := make([]error, n)
	for i := range errs {
		errs[i] = err
	}

	return errs
}

// stalledService accepts submissions but never answers a status poll before
// the poll's context ends.
type stalledService struct {
	mockService
}

func (s *stalledService) GetOperation(ctx context.Context, _ string) (core.Operation, error) {
	s.mu.Lock()
	s.pollCalls++
	s.mu.Unlock()

	<-ctx.Done()

	return core.Operation{}, ctx.Err()
}
