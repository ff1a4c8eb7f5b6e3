package worker

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	redis "github.com/redis/go-redis/v9"

	"tubetunnel/internal/jobstore"
	"tubetunnel/internal/models"
	"tubetunnel/internal/observability/logging"
	"tubetunnel/internal/playlist"
	"tubetunnel/internal/queue"
	"tubetunnel/internal/testsupport/memstore"
	"tubetunnel/internal/testsupport/redisstub"
)

// syncBuffer collects log output written from consumer goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

const mediaBucket = "videos"

type fakeRunner struct {
	mu        sync.Mutex
	processed []models.Job
	err       error
	panicMsg  string
	block     chan struct{}
	started   chan string
}

func (f *fakeRunner) Process(ctx context.Context, job models.Job) error {
	if f.started != nil {
		f.started <- job.ID
	}
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	f.processed = append(f.processed, job)
	return f.err
}

func (f *fakeRunner) setPanic(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.panicMsg = msg
}

func (f *fakeRunner) jobs() []models.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Job, len(f.processed))
	copy(out, f.processed)
	return out
}

type poolFixture struct {
	pool    *Pool
	queue   *queue.Queue
	store   *jobstore.Store
	objects *memstore.Store
	runner  *fakeRunner
	client  *redis.Client
}

func newPoolFixture(t *testing.T, runner *fakeRunner, size int) *poolFixture {
	t.Helper()
	stub, err := redisstub.Start()
	if err != nil {
		t.Fatalf("start redis stub: %v", err)
	}
	t.Cleanup(func() { stub.Close() })
	client := redis.NewClient(&redis.Options{Addr: stub.Addr()})
	t.Cleanup(func() { client.Close() })

	store, err := jobstore.New(client, 24*time.Hour, time.Hour)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	q, err := queue.New(client, "job-queue")
	if err != nil {
		t.Fatalf("new queue: %v", err)
	}
	objects := memstore.New()
	pool, err := NewPool(q, store, objects, mediaBucket, runner, size, nil)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	return &poolFixture{pool: pool, queue: q, store: store, objects: objects, runner: runner, client: client}
}

func waitForStatus(t *testing.T, store *jobstore.Store, jobID string, want models.JobStatus) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		status, err := store.Status(context.Background(), jobID)
		if err != nil {
			t.Fatalf("status: %v", err)
		}
		if status == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	status, _ := store.Status(context.Background(), jobID)
	t.Fatalf("job %s status = %q, want %q", jobID, status, want)
}

func stopPool(t *testing.T, pool *Pool, cancel context.CancelFunc) {
	t.Helper()
	pool.Stop()
	cancel()
	done := make(chan struct{})
	go func() {
		pool.Join()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("pool did not drain")
	}
}

func TestPoolProcessesJob(t *testing.T) {
	runner := &fakeRunner{}
	fx := newPoolFixture(t, runner, 1)
	ctx, cancel := context.WithCancel(context.Background())

	job := models.Job{ID: "abc", SourceURL: "https://example.com/watch?v=abc"}
	if err := fx.queue.Push(ctx, job); err != nil {
		t.Fatalf("push: %v", err)
	}

	fx.pool.Start(ctx)
	waitForStatus(t, fx.store, "abc", models.StatusCompleted)
	stopPool(t, fx.pool, cancel)

	jobs := runner.jobs()
	if len(jobs) != 1 || jobs[0] != job {
		t.Fatalf("processed jobs = %+v", jobs)
	}
	progress, err := fx.store.Progress(context.Background(), "abc")
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	if progress == nil || *progress != 1.0 {
		t.Fatalf("progress = %v, want 1.0", progress)
	}
}

func TestPoolMarksFailedJob(t *testing.T) {
	runner := &fakeRunner{err: errors.New("transcode blew up")}
	fx := newPoolFixture(t, runner, 1)
	ctx, cancel := context.WithCancel(context.Background())

	if err := fx.queue.Push(ctx, models.Job{ID: "doomed"}); err != nil {
		t.Fatalf("push: %v", err)
	}

	fx.pool.Start(ctx)
	waitForStatus(t, fx.store, "doomed", models.StatusFailed)
	stopPool(t, fx.pool, cancel)
}

func TestPoolSkipsFinishedJob(t *testing.T) {
	runner := &fakeRunner{}
	fx := newPoolFixture(t, runner, 1)
	ctx, cancel := context.WithCancel(context.Background())

	fx.objects.Put(mediaBucket, playlist.ObjectKey("done", playlist.Manifest), []byte("#EXTM3U\n"))
	if err := fx.queue.Push(ctx, models.Job{ID: "done"}); err != nil {
		t.Fatalf("push: %v", err)
	}

	fx.pool.Start(ctx)
	waitForStatus(t, fx.store, "done", models.StatusCompleted)
	stopPool(t, fx.pool, cancel)

	if jobs := runner.jobs(); len(jobs) != 0 {
		t.Fatalf("finished job was reprocessed: %+v", jobs)
	}
}

func TestPoolDropsMalformedPayload(t *testing.T) {
	runner := &fakeRunner{}
	fx := newPoolFixture(t, runner, 1)
	ctx, cancel := context.WithCancel(context.Background())

	// Seed garbage ahead of a healthy job; the consumer must discard the
	// garbage and keep going.
	if err := fx.client.LPush(ctx, "job-queue", "{not json").Err(); err != nil {
		t.Fatalf("seed garbage: %v", err)
	}
	if err := fx.queue.Push(ctx, models.Job{ID: "healthy"}); err != nil {
		t.Fatalf("push: %v", err)
	}

	fx.pool.Start(ctx)
	waitForStatus(t, fx.store, "healthy", models.StatusCompleted)
	stopPool(t, fx.pool, cancel)

	jobs := runner.jobs()
	if len(jobs) != 1 || jobs[0].ID != "healthy" {
		t.Fatalf("processed jobs = %+v, want only the healthy one", jobs)
	}
}

func TestPoolContainsRunnerPanic(t *testing.T) {
	runner := &fakeRunner{panicMsg: "boom"}
	fx := newPoolFixture(t, runner, 2)
	ctx, cancel := context.WithCancel(context.Background())

	if err := fx.queue.Push(ctx, models.Job{ID: "bomb"}); err != nil {
		t.Fatalf("push: %v", err)
	}

	fx.pool.Start(ctx)

	// The panicking consumer dies; the second consumer keeps serving jobs
	// once the runner stops panicking.
	waitForStatus(t, fx.store, "bomb", models.StatusProcessing)
	time.Sleep(50 * time.Millisecond)
	runner.setPanic("")
	if err := fx.queue.Push(ctx, models.Job{ID: "after"}); err != nil {
		t.Fatalf("push: %v", err)
	}
	waitForStatus(t, fx.store, "after", models.StatusCompleted)
	stopPool(t, fx.pool, cancel)
}

func TestPoolStopUnblocksIdleConsumers(t *testing.T) {
	runner := &fakeRunner{}
	fx := newPoolFixture(t, runner, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fx.pool.Start(ctx)
	time.Sleep(50 * time.Millisecond)

	// The outer context stays alive: Stop alone must bring consumers
	// blocked on an empty queue back.
	fx.pool.Stop()
	done := make(chan struct{})
	go func() {
		fx.pool.Join()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("pool did not drain after stop")
	}
}

func TestPoolAnnotatesJobLogs(t *testing.T) {
	runner := &fakeRunner{}
	var buf syncBuffer
	logger := logging.New(logging.Config{Writer: &buf, Format: "json"})
	fx := newPoolFixture(t, runner, 1)
	pool, err := NewPool(fx.queue, fx.store, fx.objects, mediaBucket, runner, 1, logger)
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())

	if err := fx.queue.Push(ctx, models.Job{ID: "tagged"}); err != nil {
		t.Fatalf("push: %v", err)
	}
	pool.Start(ctx)
	waitForStatus(t, fx.store, "tagged", models.StatusCompleted)
	stopPool(t, pool, cancel)

	var annotated bool
	for _, line := range strings.Split(buf.String(), "\n") {
		if strings.Contains(line, `"msg":"job completed"`) {
			if !strings.Contains(line, `"job_id":"tagged"`) {
				t.Fatalf("completion log line lacks job id: %s", line)
			}
			annotated = true
		}
	}
	if !annotated {
		t.Fatal("no completion log line was written")
	}
}

func TestPoolFinishesInFlightJobOnStop(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{}), started: make(chan string, 1)}
	fx := newPoolFixture(t, runner, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := fx.queue.Push(ctx, models.Job{ID: "slow"}); err != nil {
		t.Fatalf("push: %v", err)
	}

	fx.pool.Start(ctx)
	select {
	case <-runner.started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}

	// Shutdown arrives mid-job: the stop flag flips and the context is
	// cancelled, but the job must still run to completion.
	fx.pool.Stop()
	cancel()
	close(runner.block)

	done := make(chan struct{})
	go func() {
		fx.pool.Join()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("pool did not drain")
	}

	waitForStatus(t, fx.store, "slow", models.StatusCompleted)
}

func TestNewPoolValidation(t *testing.T) {
	if _, err := NewPool(nil, nil, nil, "", nil, 0, nil); err == nil {
		t.Fatal("expected error for missing collaborators")
	}
}
