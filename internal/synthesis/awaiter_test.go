package synthesis_test

import (
	"context"
	"testing"
	"time"

	"github.com/book-expert/narration-service/internal/clock"
	"github.com/book-expert/narration-service/internal/core"
	"github.com/book-expert/narration-service/internal/synthesis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func submittedJob() *synthesis.Job {
	job := synthesis.NewJob()
	job.Operation = "operations/" + job.ID
	job.State = synthesis.StateSubmitted

	return job
}

func TestAwaiter_CompletesAfterPolling(t *testing.T) {
	t.Parallel()

	service := &mockService{operations: []core.Operation{
		{Done: false},
		{Done: false},
		{Done: true},
	}}
	fakeClock := clock.NewAutoFake(testEpoch)
	awaiter := synthesis.NewAwaiter(service, 5*time.Second, newTestLogger(t), synthesis.WithAwaitClock(fakeClock))
	job := submittedJob()

	err := awaiter.Await(context.Background(), job, time.Minute)
	require.NoError(t, err)

	assert.Equal(t, synthesis.StateCompleted, job.State)
	assert.Equal(t, 3, service.pollCalls)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, fakeClock.Sleeps())
	assert.Equal(t, testEpoch.Add(time.Minute), job.Deadline)
}

func TestAwaiter_TimesOutAtDeadline(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		timeout time.Duration
		sleeps  []time.Duration
	}{
		{
			name:    "multiple of poll interval",
			timeout: 15 * time.Second,
			sleeps:  []time.Duration{5 * time.Second, 5 * time.Second, 5 * time.Second},
		},
		{
			name:    "last wait is shortened",
			timeout: 12 * time.Second,
			sleeps:  []time.Duration{5 * time.Second, 5 * time.Second, 2 * time.Second},
		},
	}

	for _, testCase := range tests {
		t.Run(testCase.name, func(t *testing.T) {
			t.Parallel()

			service := &mockService{}
			fakeClock := clock.NewAutoFake(testEpoch)
			awaiter := synthesis.NewAwaiter(service, 5*time.Second, newTestLogger(t), synthesis.WithAwaitClock(fakeClock))
			job := submittedJob()

			err := awaiter.Await(context.Background(), job, testCase.timeout)
			require.ErrorIs(t, err, synthesis.ErrAwaitTimeout)
			assert.NotErrorIs(t, err, synthesis.ErrInvalidRequest)
			assert.NotErrorIs(t, err, synthesis.ErrExhausted)

			assert.Equal(t, testCase.sleeps, fakeClock.Sleeps())
			assert.Equal(t, testEpoch.Add(testCase.timeout), fakeClock.Now(), "timeout must fire exactly at the deadline")
			assert.Equal(t, synthesis.StateFailed, job.State)
		})
	}
}

func TestAwaiter_TimeoutWithWallClock(t *testing.T) {
	t.Parallel()

	const timeout = 150 * time.Millisecond

	awaiter := synthesis.NewAwaiter(&mockService{}, 20*time.Millisecond, newTestLogger(t))

	start := time.Now()
	err := awaiter.Await(context.Background(), submittedJob(), timeout)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, synthesis.ErrAwaitTimeout)
	assert.GreaterOrEqual(t, elapsed, timeout, "must not give up before the deadline")
	assert.Less(t, elapsed, timeout+500*time.Millisecond, "must not overshoot the deadline by much")
}

func TestAwaiter_StalledPollStopsAtDeadline(t *testing.T) {
	t.Parallel()

	const timeout = 100 * time.Millisecond

	service := &stalledService{}
	awaiter := synthesis.NewAwaiter(service, 20*time.Millisecond, newTestLogger(t))
	job := submittedJob()

	start := time.Now()
	err := awaiter.Await(context.Background(), job, timeout)
	elapsed := time.Since(start)

	require.ErrorIs(t, err, synthesis.ErrAwaitTimeout)
	assert.NotErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, elapsed, timeout+500*time.Millisecond, "a hung status call must not outlive the deadline")
	assert.Equal(t, synthesis.StateFailed, job.State)
	assert.Equal(t, 1, service.pollCalls)
}

func TestAwaiter_StalledPollHonoursCancellation(t *testing.T) {
	t.Parallel()

	awaiter := synthesis.NewAwaiter(&stalledService{}, 20*time.Millisecond, newTestLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := awaiter.Await(ctx, submittedJob(), time.Minute)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, synthesis.ErrAwaitTimeout)
}

func TestAwaiter_RemoteFailure(t *testing.T) {
	t.Parallel()

	service := &mockService{operations: []core.Operation{
		{Done: true, ErrorMessage: "Voice de-DE-Unknown does not exist"},
	}}
	awaiter := synthesis.NewAwaiter(service, time.Second, newTestLogger(t), synthesis.WithAwaitClock(clock.NewAutoFake(testEpoch)))

	err := awaiter.Await(context.Background(), submittedJob(), time.Minute)
	require.ErrorIs(t, err, synthesis.ErrOperationFailed)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestAwaiter_PollErrorsAreRetriedUntilDone(t *testing.T) {
	t.Parallel()

	service := &mockService{
		pollErrs:   []error{errMockPollOnce, errMockPollOnce},
		operations: []core.Operation{{Done: true}},
	}
	fakeClock := clock.NewAutoFake(testEpoch)
	awaiter := synthesis.NewAwaiter(service, time.Second, newTestLogger(t), synthesis.WithAwaitClock(fakeClock))

	err := awaiter.Await(context.Background(), submittedJob(), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 3, service.pollCalls)
}

func TestAwaiter_RequiresOperation(t *testing.T) {
	t.Parallel()

	awaiter := synthesis.NewAwaiter(&mockService{}, time.Second, newTestLogger(t))

	err := awaiter.Await(context.Background(), synthesis.NewJob(), time.Minute)
	require.ErrorIs(t, err, synthesis.ErrJobHasNoOperation)
}

func TestAwaiter_ContextCancelled(t *testing.T) {
	t.Parallel()

	fakeClock := clock.NewFake(testEpoch)
	awaiter := synthesis.NewAwaiter(&mockService{}, time.Second, newTestLogger(t), synthesis.WithAwaitClock(fakeClock))

	ctx, cancel := context.WithCancel(context.Background())
	errChan := make(chan error, 1)

	go func() {
		errChan <- awaiter.Await(ctx, submittedJob(), time.Minute)
	}()

	require.Eventually(t, func() bool { return fakeClock.Waiters() == 1 }, time.Second, time.Millisecond)
	cancel()

	select {
	case awaitErr := <-errChan:
		require.ErrorIs(t, awaitErr, context.Canceled)
		assert.NotErrorIs(t, awaitErr, synthesis.ErrAwaitTimeout)
	case <-time.After(time.Second):
		t.Fatal("Await did not return after cancellation")
	}
}
