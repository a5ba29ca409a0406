package reminders

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/Plan5/internal/pkg/env"
)

// Purger removes expired idempotency records.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

type SchedulerConfig struct {
	Enabled       bool
	Interval      time.Duration
	PurgeInterval time.Duration
	Limit         int
}

// LoadSchedulerConfig reads REMINDER_SCHEDULER_* settings.
func LoadSchedulerConfig(p env.Provider) SchedulerConfig {
	cfg := SchedulerConfig{
		Enabled:       env.Bool(p, "REMINDER_SCHEDULER_ENABLED", false),
		Interval:      time.Duration(env.Int(p, "REMINDER_SCHEDULER_INTERVAL_SECONDS", 60)) * time.Second,
		PurgeInterval: time.Duration(env.Int(p, "IDEMPOTENCY_PURGE_INTERVAL_MINUTES", 60)) * time.Minute,
		Limit:         env.Int(p, "REMINDER_SCHEDULER_LIMIT", DefaultLimit),
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.PurgeInterval <= 0 {
		cfg.PurgeInterval = time.Hour
	}
	if cfg.Limit < 1 || cfg.Limit > MaxLimit {
		cfg.Limit = DefaultLimit
	}
	return cfg
}

// Scheduler runs reminder dispatch and ledger purging in-process for
// deployments without an external cron.
type Scheduler struct {
	dispatcher *Dispatcher
	purger     Purger
	cfg        SchedulerConfig

	dispatchTicker *time.Ticker
	purgeTicker    *time.Ticker
	stopCh         chan struct{}
	wg             sync.WaitGroup
	mu             sync.Mutex
	running        bool
}

func NewScheduler(dispatcher *Dispatcher, purger Purger, cfg SchedulerConfig) *Scheduler {
	return &Scheduler{dispatcher: dispatcher, purger: purger, cfg: cfg}
}

// Start launches the background workers. Calling it twice is a no-op.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	// Fresh channel per cycle so the scheduler can be restarted.
	s.stopCh = make(chan struct{})
	s.running = true
	log.Infof("[Scheduler] Starting (dispatch every %s, purge every %s)", s.cfg.Interval, s.cfg.PurgeInterval)

	s.dispatchTicker = time.NewTicker(s.cfg.Interval)
	s.wg.Add(1)
	go s.dispatchWorker(s.stopCh)

	if s.purger != nil {
		s.purgeTicker = time.NewTicker(s.cfg.PurgeInterval)
		s.wg.Add(1)
		go s.purgeWorker(s.stopCh)
	}
}

// Stop halts the workers and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}
	log.Info("[Scheduler] Stopping...")

	s.dispatchTicker.Stop()
	if s.purgeTicker != nil {
		s.purgeTicker.Stop()
	}
	close(s.stopCh)
	s.running = false
	s.wg.Wait()

	log.Info("[Scheduler] Stopped")
}

func (s *Scheduler) dispatchWorker(stop <-chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-stop:
			return
		case <-s.dispatchTicker.C:
			s.RunDispatch()
		}
	}
}

func (s *Scheduler) purgeWorker(stop <-chan struct{}) {
	defer s.wg.Done()
	for {
		select {
		case <-stop:
			return
		case <-s.purgeTicker.C:
			s.RunPurge()
		}
	}
}

// RunDispatch performs one dispatch run bounded by the dispatch interval.
func (s *Scheduler) RunDispatch() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Interval)
	defer cancel()
	if _, err := s.dispatcher.Dispatch(ctx, s.cfg.Limit); err != nil {
		log.Errorf("[Scheduler] reminder dispatch failed: %v", err)
	}
}

func (s *Scheduler) RunPurge() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	n, err := s.purger.Purge(ctx)
	if err != nil {
		log.Errorf("[Scheduler] idempotency purge failed: %v", err)
		return
	}
	if n > 0 {
		log.Debugf("[Scheduler] purged %d expired idempotency records", n)
	}
}
