// Package jobs runs background maintenance on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"promo-rewards/internal/model"
)

// Reconciler lists wallets whose cached balance disagrees with their transaction history.
type Reconciler interface {
	Reconcile(ctx context.Context) ([]model.WalletMismatch, error)
}

// Scheduler runs wallet reconciliation periodically.
type Scheduler struct {
	cron       *cron.Cron
	reconciler Reconciler
	schedule   string
	mismatches prometheus.Gauge
	runs       *prometheus.CounterVec

	mu   sync.Mutex
	last []model.WalletMismatch
}

// NewScheduler creates a scheduler in the given timezone. An unknown zone falls back to UTC.
// Metrics are registered with reg when it is not nil.
func NewScheduler(reconciler Reconciler, schedule, timezone string, reg prometheus.Registerer) *Scheduler {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		log.Warn().Err(err).Str("timezone", timezone).Msg("Unknown job timezone, using UTC")
		loc = time.UTC
	}

	s := &Scheduler{
		cron:       cron.New(cron.WithLocation(loc)),
		reconciler: reconciler,
		schedule:   schedule,
		mismatches: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "rewards",
			Subsystem: "reconcile",
			Name:      "wallet_mismatches",
			Help:      "Wallets whose balance differed from their ledger at the last run.",
		}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rewards",
			Subsystem: "reconcile",
			Name:      "runs_total",
			Help:      "Reconciliation runs, by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(s.mismatches, s.runs)
	}
	return s
}

// Start registers the job and starts the cron loop. An empty schedule disables it.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.schedule == "" {
		log.Info().Msg("Reconciliation job disabled")
		return nil
	}

	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			log.Error().Err(err).Msg("[CRON] Reconciliation failed")
		}
	})
	if err != nil {
		return fmt.Errorf("%w: reconcile schedule %q: %v", model.ErrConfiguration, s.schedule, err)
	}

	s.cron.Start()
	log.Info().Str("schedule", s.schedule).Msg("Job scheduler started")
	return nil
}

// Stop waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	log.Info().Msg("Job scheduler stopped")
}

// RunOnce reconciles every wallet and reports the mismatches found.
// Mismatches are logged, never repaired.
func (s *Scheduler) RunOnce(ctx context.Context) ([]model.WalletMismatch, error) {
	start := time.Now()
	found, err := s.reconciler.Reconcile(ctx)
	if err != nil {
		s.runs.WithLabelValues("error").Inc()
		return nil, err
	}
	s.runs.WithLabelValues("ok").Inc()
	s.mismatches.Set(float64(len(found)))

	s.mu.Lock()
	s.last = found
	s.mu.Unlock()

	for _, m := range found {
		log.Warn().
			Int64("user_id", m.UserID).
			Str("available_balance", m.AvailableBalance.StringFixed(model.MoneyPlaces)).
			Str("ledger_sum", m.LedgerSum.StringFixed(model.MoneyPlaces)).
			Msg("Wallet does not match its ledger")
	}
	log.Info().
		Int("mismatches", len(found)).
		Dur("took", time.Since(start)).
		Msg("[CRON] Reconciliation finished")
	return found, nil
}

// Last returns the mismatches from the most recent successful run.
func (s *Scheduler) Last() []model.WalletMismatch {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.WalletMismatch(nil), s.last...)
}
