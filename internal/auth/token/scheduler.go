package token

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"sellerhub/internal/store"
)

// SchedulerConfig tunes the proactive refresh pass.
type SchedulerConfig struct {
	// Interval between passes. Must stay well under the shortest token
	// lifetime (~6h) minus the refresh buffer.
	Interval time.Duration
	// InitialDelay before the first pass, so storage connections settle
	// after process startup.
	InitialDelay time.Duration
	// BetweenAccounts is a courtesy pause between refreshes within one
	// pass, to avoid hammering the marketplace's OAuth endpoint.
	BetweenAccounts time.Duration
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.Interval <= 0 {
		c.Interval = time.Hour
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 30 * time.Second
	}
	if c.BetweenAccounts < 0 {
		c.BetweenAccounts = 0
	}
	return c
}

// RunSummary aggregates per-account outcomes of one scheduled pass.
type RunSummary struct {
	Selected  int
	Refreshed int
	Failed    int
	Skipped   int // no refresh material recorded; reported, never retried
	Duration  time.Duration
}

// Scheduler keeps the whole fleet of tokens ahead of expiry independent of
// user traffic. It owns its fire schedule and is started and stopped by the
// process lifecycle; dependencies are injected, nothing is global.
type Scheduler struct {
	mgr   *Manager
	store *store.Accounts
	cfg   SchedulerConfig

	cron  *cron.Cron
	first *time.Timer

	mu   sync.Mutex
	last RunSummary
}

// NewScheduler creates a stopped scheduler. The manager's next-refresh
// planning is aligned with the pass interval so every token comes due at
// least one pass before it expires.
func NewScheduler(mgr *Manager, st *store.Accounts, cfg SchedulerConfig) *Scheduler {
	cfg = cfg.withDefaults()
	mgr.SetScheduleLead(cfg.Interval + DefaultRefreshBuffer)
	return &Scheduler{
		mgr:   mgr,
		store: st,
		cfg:   cfg,
		cron:  cron.New(),
	}
}

// Start schedules the recurring pass plus one delayed initial pass.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("@every "+s.cfg.Interval.String(), func() {
		s.RunOnce(context.Background())
	}); err != nil {
		return err
	}
	s.first = time.AfterFunc(s.cfg.InitialDelay, func() {
		s.RunOnce(context.Background())
	})
	s.cron.Start()
	log.Printf("🔄 Token refresh scheduler started (interval %s, first run in %s)",
		s.cfg.Interval, s.cfg.InitialDelay)
	return nil
}

// Stop halts future passes; an in-flight pass finishes on its own.
func (s *Scheduler) Stop() {
	if s.first != nil {
		s.first.Stop()
	}
	s.cron.Stop()
}

// LastSummary returns the most recent pass summary.
func (s *Scheduler) LastSummary() RunSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// RunOnce performs one proactive pass over every due account. Individual
// failures are counted and logged; they never abort the rest of the fleet
// and nothing escapes the run boundary. In-run retries are deliberately
// absent: a transient failure waits for the next pass.
func (s *Scheduler) RunOnce(ctx context.Context) RunSummary {
	started := time.Now()
	var summary RunSummary

	accounts, err := s.store.FindDueForRefresh(started)
	if err != nil {
		log.Printf("⚠️ Refresh pass could not list due accounts: %v", err)
		return summary
	}
	summary.Selected = len(accounts)

	for i, acc := range accounts {
		if i > 0 && s.cfg.BetweenAccounts > 0 {
			time.Sleep(s.cfg.BetweenAccounts)
		}
		if !acc.Refreshable() {
			summary.Skipped++
			log.Printf("⏭️ Skipping %s: no refresh material, reconnect to enable auto-refresh", acc.Nickname)
			continue
		}
		if _, err := s.mgr.Refresh(ctx, acc.ID); err != nil {
			summary.Failed++
			log.Printf("❌ Scheduled refresh failed for %s: %v", acc.Nickname, err)
			continue
		}
		summary.Refreshed++
	}

	summary.Duration = time.Since(started)
	log.Printf("🔄 Refresh pass done: %d selected, %d refreshed, %d failed, %d skipped (%s)",
		summary.Selected, summary.Refreshed, summary.Failed, summary.Skipped, summary.Duration.Round(time.Millisecond))

	s.mu.Lock()
	s.last = summary
	s.mu.Unlock()
	return summary
}
