package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"
)

// Scheduler fires the scan, ads-sync and trends jobs on their cron specs.
// A Redis SetNX lock per job keeps multiple replicas from double-firing.
type Scheduler struct {
	App    *App
	Rdb    *redis.Client
	Stop   chan struct{}
	Logger *log.Logger

	mu      sync.Mutex
	lastRun map[string]time.Time
}

const (
	jobScan    = "scan"
	jobAdsSync = "ads-sync"
	jobTrends  = "trends"
)

func (s *Scheduler) Start() {
	if s.Logger == nil {
		s.Logger = log.New(log.Writer(), "[SCHED] ", log.LstdFlags)
	}
	s.lastRun = make(map[string]time.Time)
	ticker := time.NewTicker(time.Minute)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	s.fire(ctx, jobScan, s.App.cfg.Scan.ScanCron, func(ctx context.Context) error {
		_, err := s.App.orch.RunScan(ctx)
		return err
	})
	s.fire(ctx, jobAdsSync, s.App.cfg.Scan.AdsSyncCron, func(ctx context.Context) error {
		if _, err := s.App.sync.Run(ctx); err != nil {
			return err
		}
		_, err := s.App.recs.Run(ctx)
		return err
	})
	s.fire(ctx, jobTrends, "@daily", func(ctx context.Context) error {
		_, err := s.App.trends.Run(ctx)
		return err
	})
}

func (s *Scheduler) fire(ctx context.Context, name, cronSpec string, run func(context.Context) error) {
	s.mu.Lock()
	last, ran := s.lastRun[name]
	s.mu.Unlock()

	var lastPtr *time.Time
	if ran {
		lastPtr = &last
	}
	if !isDue(cronSpec, lastPtr) {
		return
	}

	if s.Rdb != nil {
		lockKey := "prospector:sched:lock:" + name
		ok, err := s.Rdb.SetNX(ctx, lockKey, "1", 5*time.Minute).Result()
		if err != nil {
			s.Logger.Printf("%s: lock error: %v", name, err)
			return
		}
		if !ok {
			return
		}
	}

	s.mu.Lock()
	s.lastRun[name] = time.Now()
	s.mu.Unlock()

	go func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		if err := run(jobCtx); err != nil {
			s.Logger.Printf("%s failed: %v", name, err)
		}
	}()
}

// isDue reports whether a job with the given cron spec should run now.
// Supports "@hourly", "@daily" and standard 5-field cron expressions; an
// unparsable spec falls back to daily.
func isDue(cronSpec string, last *time.Time) bool {
	now := time.Now()
	switch cronSpec {
	case "@hourly":
		return last == nil || now.Sub(*last) >= time.Hour
	case "@daily":
		return last == nil || now.Sub(*last) >= 24*time.Hour
	default:
		expr, err := cronexpr.Parse(cronSpec)
		if err != nil {
			return last == nil || now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.After(now)
	}
}
