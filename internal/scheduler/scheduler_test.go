package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-co-op/gocron/v2"
)

type fakeSweeper struct {
	completed int
	evicted   int
	err       error
	calls     int
}

func (f *fakeSweeper) CompleteEnded(ctx context.Context) (int, error) {
	f.calls++
	if _, ok := ctx.Deadline(); !ok {
		return 0, errors.New("sweep context has no deadline")
	}
	return f.completed, f.err
}

func (f *fakeSweeper) ExpireLocks(context.Context) (int, error) {
	f.calls++
	return f.evicted, f.err
}

func newService(t *testing.T) *Service {
	t.Helper()
	svc, err := New()
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	t.Cleanup(func() { _ = svc.Stop() })
	return svc
}

func TestAddJobValidation(t *testing.T) {
	svc := newService(t)
	task := func(context.Context) {}

	if _, err := svc.AddJob("", "* * * * *", task); !errors.Is(err, ErrEmptyJobName) {
		t.Fatalf("expected ErrEmptyJobName, got %v", err)
	}
	if _, err := svc.AddJob("job", " ", task); !errors.Is(err, ErrEmptyCronExpr) {
		t.Fatalf("expected ErrEmptyCronExpr, got %v", err)
	}
	if _, err := svc.AddJob("job", "not a cron", task); !errors.Is(err, ErrInvalidCron) {
		t.Fatalf("expected ErrInvalidCron, got %v", err)
	}

	var nilSvc *Service
	if _, err := nilSvc.AddJob("job", "* * * * *", task); !errors.Is(err, ErrNotInitialized) {
		t.Fatalf("expected ErrNotInitialized, got %v", err)
	}
}

func TestRegisterSweepJobs(t *testing.T) {
	svc := newService(t)

	if err := RegisterSweepJobs(svc, &fakeSweeper{}, "0 * * * *", "* * * * *"); err != nil {
		t.Fatalf("register: %v", err)
	}

	var names []string
	for _, job := range svc.Jobs() {
		names = append(names, job.Name())
	}
	sort.Strings(names)
	if len(names) != 2 || names[0] != CompletionJobName || names[1] != LockEvictionJobName {
		t.Fatalf("unexpected jobs: %v", names)
	}

	if err := RegisterSweepJobs(svc, nil, "0 * * * *", "* * * * *"); err == nil {
		t.Fatalf("expected nil sweeper to be rejected")
	}
}

func TestRunSweeps(t *testing.T) {
	sweeper := &fakeSweeper{completed: 3, evicted: 2}

	if n := RunCompletion(context.Background(), sweeper); n != 3 {
		t.Fatalf("completed: %d", n)
	}
	if n := RunLockEviction(context.Background(), sweeper); n != 2 {
		t.Fatalf("evicted: %d", n)
	}

	failing := &fakeSweeper{completed: 5, err: errors.New("database is locked")}
	if n := RunCompletion(context.Background(), failing); n != 0 {
		t.Fatalf("failed sweep reported %d", n)
	}
	if failing.calls != 1 {
		t.Fatalf("calls: %d", failing.calls)
	}
}

func TestStopCancelsJobContext(t *testing.T) {
	svc := newService(t)

	var cancelled atomic.Bool
	started := make(chan struct{})
	_, err := svc.AddJob("blocking", "* * * * *", func(ctx context.Context) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
	}, gocron.WithStartAt(gocron.WithStartImmediately()))
	if err != nil {
		t.Fatalf("add job: %v", err)
	}
	svc.Start()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not start")
	}
	if err := svc.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !cancelled.Load() {
		t.Fatalf("job context was not cancelled on stop")
	}
}
