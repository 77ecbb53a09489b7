package monitor

import (
	"context"
	"log"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yourusername/app-forge/internal/jobs"
	"github.com/yourusername/app-forge/internal/ws"
)

func newMonitorFixture(t *testing.T) (*Monitor, jobs.Store, *ws.Hub) {
	t.Helper()
	store := jobs.NewMemoryStore()
	hub := ws.NewHub()
	m := New(store, hub, time.Minute, 15*time.Minute, log.New(os.Stderr, "", 0))
	return m, store, hub
}

func createInProgressJob(t *testing.T, store jobs.Store, id string) {
	t.Helper()
	now := time.Now()
	require.NoError(t, store.Create(context.Background(), &jobs.Job{
		ID:        id,
		Prompt:    "p",
		Status:    jobs.StatusInProgress,
		Step:      jobs.StepCoding,
		CreatedAt: now,
		UpdatedAt: now,
	}))
}

func TestSweepTimesOutStaleJobs(t *testing.T) {
	m, store, _ := newMonitorFixture(t)
	createInProgressJob(t, store, "stale")

	// 期限超過をシミュレートするため、現在時刻を進めて走査します。
	m.now = func() time.Time { return time.Now().Add(20 * time.Minute) }

	assert.Equal(t, 1, m.Sweep(context.Background()))

	job, err := store.Get(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, job.Status)
	assert.Equal(t, jobs.StepTimeout, job.Step)
	assert.Equal(t, timeoutMessage, job.Error)
}

func TestSweepLeavesFreshJobsAlone(t *testing.T) {
	m, store, _ := newMonitorFixture(t)
	createInProgressJob(t, store, "fresh")

	m.now = func() time.Time { return time.Now().Add(5 * time.Minute) }

	assert.Equal(t, 0, m.Sweep(context.Background()))

	job, err := store.Get(context.Background(), "fresh")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusInProgress, job.Status)
	assert.Empty(t, job.Error)
}

func TestSweepIgnoresTerminalJobs(t *testing.T) {
	m, store, _ := newMonitorFixture(t)
	now := time.Now().Add(-time.Hour)
	require.NoError(t, store.Create(context.Background(), &jobs.Job{
		ID: "done", Prompt: "p", Status: jobs.StatusComplete, Step: jobs.StepComplete,
		CreatedAt: now, UpdatedAt: now,
	}))

	m.now = func() time.Time { return time.Now().Add(time.Hour) }

	assert.Equal(t, 0, m.Sweep(context.Background()))

	job, err := store.Get(context.Background(), "done")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusComplete, job.Status)
}

// staleListStore は一覧取得の時点の古いスナップショットを返すストアです。
// 一覧と書き込みの間にジョブが完了した競合状態を再現します。
type staleListStore struct {
	jobs.Store
	stale []*jobs.Job
}

func (s *staleListStore) List(ctx context.Context, f jobs.Filter, limit, offset int) ([]*jobs.Job, error) {
	return s.stale, nil
}

func TestSweepDoesNotRegressCompletedJob(t *testing.T) {
	inner := jobs.NewMemoryStore()
	past := time.Now().Add(-time.Hour)
	require.NoError(t, inner.Create(context.Background(), &jobs.Job{
		ID: "done", Prompt: "p", Status: jobs.StatusComplete, Step: jobs.StepComplete,
		CreatedAt: past, UpdatedAt: time.Now(),
	}))

	// 一覧にだけ、完了前の古い in_progress スナップショットが残っている
	stale := &jobs.Job{
		ID: "done", Prompt: "p", Status: jobs.StatusInProgress, Step: jobs.StepCoding,
		CreatedAt: past, UpdatedAt: past,
	}
	store := &staleListStore{Store: inner, stale: []*jobs.Job{stale}}

	m := New(store, ws.NewHub(), time.Minute, 15*time.Minute, log.New(os.Stderr, "", 0))

	assert.Equal(t, 0, m.Sweep(context.Background()))

	job, err := inner.Get(context.Background(), "done")
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusComplete, job.Status)
	assert.Equal(t, jobs.StepComplete, job.Step)
	assert.Empty(t, job.Error)
}

func TestSweepBroadcastsTimeout(t *testing.T) {
	m, store, hub := newMonitorFixture(t)
	createInProgressJob(t, store, "stale")

	conn := &captureConn{}
	hub.Subscribe("stale", conn)

	m.now = func() time.Time { return time.Now().Add(20 * time.Minute) }
	m.Sweep(context.Background())

	require.Len(t, conn.messages, 1)
	assert.Equal(t, "status_update", conn.messages[0].Type)
	assert.Equal(t, string(jobs.StepTimeout), conn.messages[0].Data.Step)
	assert.Equal(t, timeoutMessage, conn.messages[0].Data.Error)
}

type captureConn struct {
	messages []ws.Message
}

func (c *captureConn) WriteJSON(v interface{}) error {
	if msg, ok := v.(ws.Message); ok {
		c.messages = append(c.messages, msg)
	}
	return nil
}

func (c *captureConn) Close() error { return nil }
