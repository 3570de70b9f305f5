package tasks

import (
	"context"
	"log"
	"sync"
	"time"
)

// Job is a periodic background task.
type Job struct {
	Name     string
	Interval time.Duration
	Run      func(ctx context.Context)
}

type Scheduler struct {
	jobs []Job
}

func NewScheduler(jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs}
}

// Start launches every job; each runs once immediately, then on its interval until ctx is done.
func (s *Scheduler) Start(ctx context.Context) {
	if s == nil {
		return
	}
	for _, job := range s.jobs {
		if job.Run == nil {
			continue
		}
		go runWithTicker(ctx, job.Interval, job.Name, job.Run)
	}
}

// Go runs fn on a detached goroutine. No handle is returned; panics are logged.
// The task counts as in flight until fn returns, see Wait.
func Go(name string, fn func()) {
	inflight.add()
	go func() {
		defer inflight.done()
		safeRun(context.Background(), name, func(context.Context) { fn() })
	}()
}

// Wait blocks until every task started with Go has returned or timeout
// elapses. It reports whether the tasks drained in time.
func Wait(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		idle, ok := inflight.idle()
		if ok {
			return true
		}
		select {
		case <-idle:
		case <-timer.C:
			return false
		}
	}
}

// 在途任务计数；归零时关闭 idleCh
type tracker struct {
	mu     sync.Mutex
	n      int
	idleCh chan struct{}
}

var inflight tracker

func (t *tracker) add() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.n == 0 {
		t.idleCh = make(chan struct{})
	}
	t.n++
}

func (t *tracker) done() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.n--
	if t.n == 0 {
		close(t.idleCh)
	}
}

func (t *tracker) idle() (<-chan struct{}, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.idleCh, t.n == 0
}

func runWithTicker(ctx context.Context, interval time.Duration, name string, fn func(context.Context)) {
	if interval <= 0 {
		interval = time.Hour
	}

	// 启动后先跑一次，避免“等待一个周期才生效”。
	safeRun(ctx, name, fn)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			safeRun(ctx, name, fn)
		}
	}
}

func safeRun(ctx context.Context, name string, fn func(context.Context)) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[tasks] %s panicked: %v", name, r)
		}
	}()
	fn(ctx)
}
