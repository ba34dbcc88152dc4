// Package maintenance runs the scheduled housekeeping jobs: pruning old
// flow telemetry and posting the daily flow digest.
package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"labinsight/internal/domain"
	"labinsight/internal/storage/sqlite"
)

const digestWindow = 24 * time.Hour

// DigestPoster delivers the flow digest somewhere people will read it.
type DigestPoster interface {
	PostDigest(ctx context.Context, stats []domain.FlowStats, since time.Time) error
}

type Options struct {
	// Schedules are standard 5-field cron expressions. An empty
	// DigestSchedule disables the digest.
	MaintenanceSchedule string
	DigestSchedule      string
	Retention           time.Duration
	Location            *time.Location
	Poster              DigestPoster
	Logger              *logrus.Logger
	Now                 func() time.Time
}

type Scheduler struct {
	db   *sql.DB
	opts Options
	cron *cron.Cron
}

func New(db *sql.DB, opts Options) (*Scheduler, error) {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	s := &Scheduler{
		db:   db,
		opts: opts,
		cron: cron.New(cron.WithLocation(opts.Location)),
	}

	schedule := strings.TrimSpace(opts.MaintenanceSchedule)
	if _, err := s.cron.AddFunc(schedule, func() { _, _ = s.Prune(context.Background()) }); err != nil {
		return nil, fmt.Errorf("invalid maintenance schedule '%s': %w", schedule, err)
	}
	opts.Logger.WithFields(logrus.Fields{"cron": schedule, "retention": opts.Retention.String()}).Info("maintenance scheduled")

	digest := strings.TrimSpace(opts.DigestSchedule)
	switch {
	case digest == "":
		opts.Logger.Info("flow digest disabled (digest_schedule not set)")
	case opts.Poster == nil:
		opts.Logger.Info("flow digest disabled: slack is not configured")
	default:
		if _, err := s.cron.AddFunc(digest, func() { _ = s.Digest(context.Background()) }); err != nil {
			return nil, fmt.Errorf("invalid digest schedule '%s': %w", digest, err)
		}
		opts.Logger.WithField("cron", digest).Info("flow digest scheduled")
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler and waits for running jobs until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) {
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Prune deletes flow runs older than the retention window.
func (s *Scheduler) Prune(ctx context.Context) (int64, error) {
	cutoff := s.opts.Now().Add(-s.opts.Retention)
	deleted, err := sqlite.PruneFlowRuns(s.db, cutoff)
	if err != nil {
		s.opts.Logger.WithError(err).Error("maintenance prune failed")
		return 0, fmt.Errorf("prune flow runs: %w", err)
	}
	s.opts.Logger.WithFields(logrus.Fields{
		"deleted": deleted,
		"cutoff":  cutoff.In(s.opts.Location).Format(time.RFC3339),
	}).Info("maintenance prune complete")
	return deleted, nil
}

// Digest posts the last day's per-flow stats.
func (s *Scheduler) Digest(ctx context.Context) error {
	if s.opts.Poster == nil {
		return nil
	}
	since := s.opts.Now().Add(-digestWindow).In(s.opts.Location)
	stats, err := sqlite.GetFlowStats(s.db, since)
	if err != nil {
		s.opts.Logger.WithError(err).Error("flow digest query failed")
		return fmt.Errorf("flow stats: %w", err)
	}
	if err := s.opts.Poster.PostDigest(ctx, stats, since); err != nil {
		s.opts.Logger.WithError(err).Warn("flow digest post failed")
		return err
	}
	return nil
}
