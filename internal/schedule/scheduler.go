package schedule

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type Job interface {
	Name() string
	Run(ctx context.Context) error
}

type Scheduler interface {
	AddJob(job Job, spec string) error
	RunNow(name string) error
	Start(ctx context.Context)
	Stop()
}

type CronScheduler struct {
	cron *cron.Cron

	mu   sync.Mutex
	ctx  context.Context
	jobs map[string]*entry
}

// entry guards a job against overlapping runs, whether they come from the
// cron timer or from RunNow.
type entry struct {
	job     Job
	spec    string
	id      cron.EntryID
	running atomic.Bool
}

var specParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

func NewCronScheduler() *CronScheduler {
	return &CronScheduler{
		cron: cron.New(cron.WithParser(specParser)),
		ctx:  context.Background(),
		jobs: make(map[string]*entry),
	}
}

// ValidateSpec reports whether spec is a 5-field cron expression or a
// descriptor such as "@every 1m".
func ValidateSpec(spec string) error {
	_, err := specParser.Parse(spec)
	return err
}

func (c *CronScheduler) AddJob(job Job, spec string) error {
	name := job.Name()
	logger := logutil.GetLogger(context.Background()).With(zap.String("job", name), zap.String("spec", spec))
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.jobs[name]; ok {
		return fmt.Errorf("job %s already scheduled", name)
	}
	e := &entry{job: job, spec: spec}
	id, err := c.cron.AddFunc(spec, func() { c.run(e) })
	if err != nil {
		logger.Error("schedule job failed", zap.Error(err))
		return err
	}
	e.id = id
	c.jobs[name] = e
	logger.Info("job scheduled")
	return nil
}

// RunNow runs a scheduled job once on the calling goroutine. It returns
// without running when the job is already in progress.
func (c *CronScheduler) RunNow(name string) error {
	c.mu.Lock()
	e, ok := c.jobs[name]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %s not found", name)
	}
	c.run(e)
	return nil
}

func (c *CronScheduler) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
	c.cron.Start()
}

// Stop stops the timer and waits for running jobs to return.
func (c *CronScheduler) Stop() {
	done := c.cron.Stop()
	<-done.Done()
}

func (c *CronScheduler) run(e *entry) {
	c.mu.Lock()
	ctx := c.ctx
	c.mu.Unlock()
	logger := logutil.GetLogger(ctx).With(
		zap.String("job", e.job.Name()),
		zap.String("spec", e.spec),
	)
	if !e.running.CompareAndSwap(false, true) {
		logger.Info("job skipped: still running")
		return
	}
	defer e.running.Store(false)

	start := time.Now()
	logger.Debug("job started")
	err := e.job.Run(ctx)
	elapsed := time.Since(start)
	if err != nil {
		logger.Error("job finished", zap.Error(err), zap.Duration("duration", elapsed))
		return
	}
	logger.Debug("job finished", zap.Duration("duration", elapsed))
}
