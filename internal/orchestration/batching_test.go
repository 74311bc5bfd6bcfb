package orchestration

import (
	"context"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/nimafallahian/go-indexflow/internal/async"
	"github.com/nimafallahian/go-indexflow/internal/domain"
	"github.com/nimafallahian/go-indexflow/internal/ports"
)

type mockErrorHandler struct {
	mock.Mock
}

func (m *mockErrorHandler) Handle(ctx context.Context, report *domain.FailureReport) {
	m.Called(ctx, report)
}

func testConfig(strategy Strategy) Config {
	cfg := DefaultConfig()
	cfg.Strategy = strategy
	cfg.Delay = 10 * time.Millisecond
	return cfg
}

func newTestOrchestrator(t *testing.T, backend *fakeBackend, cfg Config, opts ...Option) *Orchestrator {
	t.Helper()
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	o, err := New(backend, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = o.Close(context.Background())
	})
	return o
}

func awaitCompletion(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, o.AwaitCompletion(ctx))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "unknown strategy", mutate: func(c *Config) { c.Strategy = "random" }, wantErr: true},
		{name: "zero min size", mutate: func(c *Config) { c.MinBulkSize = 0 }, wantErr: true},
		{name: "max below min", mutate: func(c *Config) { c.MinBulkSize, c.MaxBulkSize = 5, 4 }, wantErr: true},
		{name: "no changesets per batch", mutate: func(c *Config) { c.MaxChangesetsPerBatch = 0 }, wantErr: true},
		{name: "negative delay", mutate: func(c *Config) { c.Delay = -time.Second }, wantErr: true},
		{name: "zero delay", mutate: func(c *Config) { c.Delay = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
		})
	}
	require.NoError(t, StreamingConfig().Validate())
}

func TestNew_RejectsInvalidInput(t *testing.T) {
	_, err := New(nil, DefaultConfig())
	require.Error(t, err)

	cfg := DefaultConfig()
	cfg.MinBulkSize = 0
	_, err = New(&fakeBackend{}, cfg)
	require.Error(t, err)
}

func TestOrchestrator_SubmitResolvesAfterCycle(t *testing.T) {
	backend := &fakeBackend{}
	o := newTestOrchestrator(t, backend, testConfig(StrategySerial))

	f := o.Submit([]domain.Work{indexWork("a"), indexWork("b"), purgeWork("p")})
	awaitCompletion(t, o)

	results, err := f.Await(context.Background())
	require.NoError(t, err)
	require.Len(t, results, 3)
	require.Equal(t, []string{"bulk:a,b", "single:p"}, backend.Requests())
}

func TestOrchestrator_EmptyChangesetCompletesImmediately(t *testing.T) {
	backend := &fakeBackend{}
	o := newTestOrchestrator(t, backend, testConfig(StrategySerial))

	f := o.Submit(nil)
	select {
	case <-f.Done():
	default:
		t.Fatal("empty changeset should complete without a cycle")
	}
	results, err := f.Result()
	require.NoError(t, err)
	require.Empty(t, results)
	require.Empty(t, backend.Requests())
}

func TestOrchestrator_SubmitOne(t *testing.T) {
	backend := &fakeBackend{}
	o := newTestOrchestrator(t, backend, testConfig(StrategySerial))

	f := o.SubmitOne(indexWork("a"))
	awaitCompletion(t, o)

	res, err := f.Await(context.Background())
	require.NoError(t, err)
	require.Equal(t, "a", res.Work.ID)
	require.Equal(t, 201, res.Response.Status)
	require.Equal(t, []string{"single:a"}, backend.Requests())
}

func TestOrchestrator_CoalescesSubmissionsIntoOneCycle(t *testing.T) {
	backend := &fakeBackend{}
	cfg := testConfig(StrategySerial)
	cfg.Delay = 50 * time.Millisecond
	o := newTestOrchestrator(t, backend, cfg)

	first := o.Submit([]domain.Work{indexWork("a1"), indexWork("a2")})
	second := o.Submit([]domain.Work{indexWork("b1"), indexWork("b2")})
	awaitCompletion(t, o)

	for _, f := range []*async.Future[[]domain.ItemResult]{first, second} {
		_, err := f.Await(context.Background())
		require.NoError(t, err)
	}
	require.Equal(t, []string{"bulk:a1,a2,b1,b2"}, backend.Requests())
}

func TestOrchestrator_WindowsAreBoundedByMaxChangesets(t *testing.T) {
	backend := &fakeBackend{}
	cfg := testConfig(StrategySerial)
	cfg.Delay = 50 * time.Millisecond
	cfg.MaxChangesetsPerBatch = 1
	o := newTestOrchestrator(t, backend, cfg)

	o.Submit([]domain.Work{indexWork("a1"), indexWork("a2")})
	o.Submit([]domain.Work{indexWork("b1"), indexWork("b2")})
	awaitCompletion(t, o)

	require.Equal(t, []string{"bulk:a1,a2", "bulk:b1,b2"}, backend.Requests())
}

func TestOrchestrator_StreamingBulksEverything(t *testing.T) {
	backend := &fakeBackend{}
	cfg := StreamingConfig()
	cfg.Delay = 50 * time.Millisecond
	o := newTestOrchestrator(t, backend, cfg)

	o.Submit([]domain.Work{indexWork("a")})
	o.Submit([]domain.Work{indexWork("b")})
	awaitCompletion(t, o)

	require.Equal(t, []string{"bulk:a,b"}, backend.Requests())
	require.Empty(t, backend.refreshed)
}

func TestOrchestrator_RefreshAfterWrite(t *testing.T) {
	backend := &fakeBackend{}
	cfg := testConfig(StrategyParallel)
	cfg.RefreshAfterWrite = true
	o := newTestOrchestrator(t, backend, cfg)

	o.Submit([]domain.Work{indexWork("a"), indexWork("b")})
	awaitCompletion(t, o)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Equal(t, [][]string{{"books"}}, backend.refreshed)
}

func TestOrchestrator_AwaitCompletionIncludesLateArrivals(t *testing.T) {
	gate := make(chan struct{})
	backend := &fakeBackend{gate: gate}
	o := newTestOrchestrator(t, backend, testConfig(StrategySerial))

	first := o.Submit([]domain.Work{purgeWork("p1")})
	require.Eventually(t, func() bool {
		return len(backend.Requests()) == 1
	}, time.Second, 5*time.Millisecond)

	// Submitted while the first cycle is processing.
	second := o.Submit([]domain.Work{purgeWork("p2")})

	released := make(chan error, 1)
	go func() {
		released <- o.AwaitCompletion(context.Background())
	}()

	select {
	case <-released:
		t.Fatal("AwaitCompletion returned while a cycle was blocked")
	case <-time.After(30 * time.Millisecond):
	}

	close(gate)
	select {
	case err := <-released:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("AwaitCompletion did not return")
	}

	for _, f := range []*async.Future[[]domain.ItemResult]{first, second} {
		select {
		case <-f.Done():
		default:
			t.Fatal("changeset submitted before AwaitCompletion is not resolved")
		}
	}
	require.Equal(t, []string{"single:p1", "single:p2"}, backend.Requests())
}

func TestOrchestrator_AwaitCompletionWhenIdle(t *testing.T) {
	o := newTestOrchestrator(t, &fakeBackend{}, testConfig(StrategySerial))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, o.AwaitCompletion(ctx))
}

func TestOrchestrator_FailureReachesHandlers(t *testing.T) {
	backend := &fakeBackend{status: func(w domain.Work) int {
		if w.ID == "b" {
			return 429
		}
		return 0
	}}

	var panicked atomic.Bool
	panicking := ports.ErrorHandlerFunc(func(context.Context, *domain.FailureReport) {
		panicked.Store(true)
		panic("handler exploded")
	})
	recording := &mockErrorHandler{}
	recording.On("Handle", mock.Anything, mock.MatchedBy(func(r *domain.FailureReport) bool {
		return len(r.Failed) == 1 && r.Failed[0].Work.ID == "b"
	})).Return().Once()

	o := newTestOrchestrator(t, backend, testConfig(StrategySerial), WithErrorHandlers(panicking, recording))

	f := o.Submit([]domain.Work{indexWork("a"), indexWork("b"), indexWork("c")})
	awaitCompletion(t, o)

	results, err := f.Await(context.Background())
	var report *domain.FailureReport
	require.ErrorAs(t, err, &report)
	require.Len(t, results, 3)
	require.True(t, panicked.Load())
	require.Len(t, report.Suppressed, 1)
	require.ErrorContains(t, report.Suppressed[0], "handler exploded")
	recording.AssertExpectations(t)
}

func TestOrchestrator_FactoryPanicAbandonsBulk(t *testing.T) {
	backend := &fakeBackend{}
	reports := make(chan *domain.FailureReport, 4)
	handler := ports.ErrorHandlerFunc(func(_ context.Context, r *domain.FailureReport) {
		reports <- r
	})
	factory := func([]domain.Work) domain.Bulk {
		panic("factory exploded")
	}

	o := newTestOrchestrator(t, backend, testConfig(StrategySerial),
		WithErrorHandlers(handler), WithBulkFactory(factory))

	f := o.Submit([]domain.Work{indexWork("a"), indexWork("b")})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := f.Await(ctx)
	require.ErrorIs(t, err, errBulkAbandoned)
	require.Empty(t, backend.Requests())

	// The cycle reports the panic next to the changeset's own report.
	for {
		select {
		case r := <-reports:
			if strings.Contains(r.Error(), "factory exploded") {
				return
			}
		case <-ctx.Done():
			t.Fatal("factory panic was not reported")
		}
	}
}

func TestOrchestrator_Close(t *testing.T) {
	backend := &fakeBackend{}
	cfg := testConfig(StrategySerial)
	cfg.Delay = 30 * time.Millisecond
	o, err := New(backend, cfg, WithLogger(discardLogger()))
	require.NoError(t, err)

	pending := o.Submit([]domain.Work{indexWork("a")})
	require.NoError(t, o.Close(context.Background()))

	// Close waits for the scheduled cycle.
	select {
	case <-pending.Done():
	default:
		t.Fatal("scheduled changeset not processed before Close returned")
	}
	_, err = pending.Result()
	require.NoError(t, err)

	_, err = o.Submit([]domain.Work{indexWork("b")}).Result()
	require.ErrorIs(t, err, ErrOrchestratorClosed)
	_, err = o.SubmitOne(indexWork("c")).Result()
	require.ErrorIs(t, err, ErrOrchestratorClosed)

	require.NoError(t, o.Close(context.Background()))
	require.NoError(t, o.AwaitCompletion(context.Background()))
	require.Equal(t, []string{"single:a"}, backend.Requests())
}

func TestOrchestrator_CloseHonoursContext(t *testing.T) {
	gate := make(chan struct{})
	defer close(gate)
	backend := &fakeBackend{gate: gate}
	o, err := New(backend, testConfig(StrategySerial), WithLogger(discardLogger()))
	require.NoError(t, err)

	o.Submit([]domain.Work{purgeWork("p")})
	require.Eventually(t, func() bool {
		return len(backend.Requests()) == 1
	}, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, o.Close(ctx), context.DeadlineExceeded)

	// Waiters are released even though the cycle is still blocked.
	require.NoError(t, o.AwaitCompletion(context.Background()))
}

func TestCycleState_String(t *testing.T) {
	require.Equal(t, "idle", stateIdle.String())
	require.Equal(t, "schedule_requested", stateScheduleRequested.String())
	require.Equal(t, "scheduled", stateScheduled.String())
	require.Equal(t, "processing", stateProcessing.String())
	require.Equal(t, "cycleState(9)", cycleState(9).String())
}
