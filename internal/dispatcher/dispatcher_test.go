package dispatcher_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"deadlineTracker/internal/clock"
	"deadlineTracker/internal/dispatcher"
	"deadlineTracker/internal/models/deadline"
	"deadlineTracker/internal/models/reminder"
	"deadlineTracker/internal/notify"
	"deadlineTracker/internal/planner"
	"deadlineTracker/internal/repository/deadline/inmemory"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, time.May, 6, 9, 0, 0, 0, time.UTC)

// fakeTransport считает вызовы по получателям
type fakeTransport struct {
	mtx     sync.Mutex
	calls   map[string]int
	failFor map[string]bool
	delay   time.Duration
	block   bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{calls: map[string]int{}, failFor: map[string]bool{}}
}

func (f *fakeTransport) Send(ctx context.Context, recipient string, channel reminder.Channel, msg notify.Message) error {
	f.mtx.Lock()
	f.calls[recipient]++
	fail := f.failFor[recipient]
	f.mtx.Unlock()

	if f.block {
		<-ctx.Done()
		return ctx.Err()
	}
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if fail {
		return errors.New("smtp: connection refused")
	}
	return nil
}

func (f *fakeTransport) total() int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func (f *fakeTransport) callsFor(recipient string) int {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return f.calls[recipient]
}

type env struct {
	store     *inmemory.Storage
	planner   *planner.Planner
	transport *fakeTransport
	clock     *clock.Manual
}

func setup(t *testing.T) *env {
	t.Helper()
	store := inmemory.New()
	clk := clock.NewManual(now)
	return &env{
		store:     store,
		planner:   planner.New(store, planner.DefaultConfig(), clk),
		transport: newFakeTransport(),
		clock:     clk,
	}
}

func (e *env) dispatcher(t *testing.T, cfg dispatcher.Config) *dispatcher.Dispatcher {
	t.Helper()
	renderer, err := notify.NewRenderer(notify.DefaultTemplates(), time.UTC)
	require.NoError(t, err)
	return dispatcher.New(e.store, e.transport, renderer, cfg, e.clock)
}

// dueDeadline создаёт дедлайн, напоминание которого уже пора отправить
func (e *env) dueDeadline(t *testing.T) *deadline.Deadline {
	t.Helper()
	d := deadline.New(uuid.New(), "Submission", now.AddDate(0, 0, 2))
	require.NoError(t, e.store.CreateDeadline(context.Background(), d))
	_, err := e.planner.Plan(context.Background(), d)
	require.NoError(t, err)
	return d
}

func (e *env) reminders(t *testing.T, d *deadline.Deadline) []*reminder.Reminder {
	t.Helper()
	list, err := e.store.ListDeadlineReminders(context.Background(), d.ID)
	require.NoError(t, err)
	return list
}

func TestSweep_SendsDueReminders(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	d := e.dueDeadline(t)

	future := deadline.New(uuid.New(), "Later", now.AddDate(0, 1, 0))
	require.NoError(t, e.store.CreateDeadline(ctx, future))
	_, err := e.planner.Plan(ctx, future)
	require.NoError(t, err)

	sent, err := e.dispatcher(t, dispatcher.DefaultConfig()).Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	assert.Equal(t, 1, e.transport.callsFor("lab:"+d.LabID.String()))
	assert.Equal(t, 0, e.transport.callsFor("lab:"+future.LabID.String()))

	list := e.reminders(t, d)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].SentAt)
	assert.True(t, now.Equal(*list[0].SentAt))
	assert.Equal(t, 1, list[0].Attempts)

	again, err := e.dispatcher(t, dispatcher.DefaultConfig()).Sweep(ctx, now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 0, again)
	assert.Equal(t, 1, e.transport.total())
}

func TestSweep_AtMostOnceUnderConcurrentSweeps(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	e.transport.delay = 5 * time.Millisecond

	var deadlines []*deadline.Deadline
	for i := 0; i < 10; i++ {
		deadlines = append(deadlines, e.dueDeadline(t))
	}

	const sweeps = 8
	var wg sync.WaitGroup
	var mtx sync.Mutex
	totalSent := 0
	for i := 0; i < sweeps; i++ {
		disp := e.dispatcher(t, dispatcher.Config{Concurrency: 3})
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := disp.Sweep(ctx, now)
			assert.NoError(t, err)
			mtx.Lock()
			totalSent += n
			mtx.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 10, totalSent)
	assert.Equal(t, 10, e.transport.total())
	for _, d := range deadlines {
		assert.Equal(t, 1, e.transport.callsFor("lab:"+d.LabID.String()))
		list := e.reminders(t, d)
		require.Len(t, list, 1)
		assert.NotNil(t, list[0].SentAt)
	}
}

func TestSweep_TransportFailureIsIsolated(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	failing := e.dueDeadline(t)
	healthy := e.dueDeadline(t)
	e.transport.failFor["lab:"+failing.LabID.String()] = true

	sent, err := e.dispatcher(t, dispatcher.DefaultConfig()).Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	bad := e.reminders(t, failing)
	require.Len(t, bad, 1)
	assert.Nil(t, bad[0].SentAt)
	assert.Equal(t, 1, bad[0].Attempts, "no retry inside the same sweep")
	assert.Contains(t, bad[0].LastError, "connection refused")
	assert.Nil(t, bad[0].ClaimToken)

	good := e.reminders(t, healthy)
	require.Len(t, good, 1)
	assert.NotNil(t, good[0].SentAt)

	// транспорт восстановился, следующий проход досылает
	e.transport.mtx.Lock()
	e.transport.failFor = map[string]bool{}
	e.transport.mtx.Unlock()

	sent, err = e.dispatcher(t, dispatcher.DefaultConfig()).Sweep(ctx, now.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, sent)

	bad = e.reminders(t, failing)
	assert.NotNil(t, bad[0].SentAt)
	assert.Equal(t, 2, bad[0].Attempts)
	assert.Empty(t, bad[0].LastError)
}

func TestSweep_SendTimeoutCountsAsFailure(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	e.transport.block = true
	d := e.dueDeadline(t)

	start := time.Now()
	sent, err := e.dispatcher(t, dispatcher.Config{SendTimeout: 20 * time.Millisecond}).Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	assert.Less(t, time.Since(start), time.Second)

	list := e.reminders(t, d)
	require.Len(t, list, 1)
	assert.Nil(t, list[0].SentAt)
	assert.Equal(t, 1, list[0].Attempts)
}

func TestSweep_SkipsRetiredReminders(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	d := e.dueDeadline(t)

	_, err := e.planner.RetireAll(ctx, d.ID)
	require.NoError(t, err)

	sent, err := e.dispatcher(t, dispatcher.DefaultConfig()).Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)
	assert.Equal(t, 0, e.transport.total())
}

func TestSweep_ManyBatches(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	for i := 0; i < 7; i++ {
		e.dueDeadline(t)
	}

	sent, err := e.dispatcher(t, dispatcher.Config{BatchSize: 3, Concurrency: 2}).Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 7, sent)
}

func TestSweep_SkipsClaimedByAnotherReplica(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	d := e.dueDeadline(t)

	list := e.reminders(t, d)
	require.NoError(t, e.store.ClaimReminder(ctx, list[0].ID, uuid.New(), now, now.Add(time.Minute)))

	sent, err := e.dispatcher(t, dispatcher.DefaultConfig()).Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 0, sent)

	// аренда истекла, напоминание снова доступно
	sent, err = e.dispatcher(t, dispatcher.DefaultConfig()).Sweep(ctx, now.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
}

func TestSweep_FailingBatchDoesNotStarveLaterReminders(t *testing.T) {
	ctx := context.Background()
	e := setup(t)

	// неудачные напоминания созрели раньше и идут первыми в порядке fire_at
	e.clock.Set(now.Add(-2 * time.Hour))
	var failing []*deadline.Deadline
	for i := 0; i < 2; i++ {
		d := e.dueDeadline(t)
		e.transport.failFor["lab:"+d.LabID.String()] = true
		failing = append(failing, d)
	}
	e.clock.Set(now.Add(-time.Hour))
	healthy := e.dueDeadline(t)
	e.clock.Set(now)

	for sweep := 0; sweep < 3; sweep++ {
		sent, err := e.dispatcher(t, dispatcher.Config{BatchSize: 2, Concurrency: 1}).Sweep(ctx, now.Add(time.Duration(sweep)*time.Minute))
		require.NoError(t, err)
		if sweep == 0 {
			assert.Equal(t, 1, sent)
		} else {
			assert.Equal(t, 0, sent)
		}
	}

	assert.Equal(t, 1, e.transport.callsFor("lab:"+healthy.LabID.String()))
	list := e.reminders(t, healthy)
	require.Len(t, list, 1)
	assert.NotNil(t, list[0].SentAt)

	for _, d := range failing {
		assert.Equal(t, 3, e.transport.callsFor("lab:"+d.LabID.String()), "retried once per sweep")
	}
}

func TestSweep_PagesThroughEveryDueReminder(t *testing.T) {
	ctx := context.Background()
	e := setup(t)
	e.transport.delay = time.Millisecond

	for i := 0; i < 9; i++ {
		d := e.dueDeadline(t)
		if i%2 == 0 {
			e.transport.failFor["lab:"+d.LabID.String()] = true
		}
	}

	sent, err := e.dispatcher(t, dispatcher.Config{BatchSize: 2, Concurrency: 2}).Sweep(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 4, sent)
	assert.Equal(t, 9, e.transport.total(), "each due reminder attempted exactly once")
}
