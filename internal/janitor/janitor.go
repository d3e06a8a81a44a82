// Package janitor runs periodic maintenance: expiring stale presence and
// purging old notification records.
package janitor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mileusna/crontab"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-messaging/internal/lock"
	"github.com/capitalize-ai/realtime-messaging/internal/presence"
	"github.com/capitalize-ai/realtime-messaging/pkg/logger"
	"github.com/capitalize-ai/realtime-messaging/pkg/metrics"
)

const (
	JobPresenceExpiry    = "presence_expiry"
	JobNotificationPurge = "notification_purge"

	presenceSchedule = "*/5 * * * *"
	purgeSchedule    = "0 * * * *"

	jobTimeout = 5 * time.Minute
)

// NotificationPurger deletes notification records created before a cutoff.
type NotificationPurger interface {
	PurgeNotifications(ctx context.Context, before time.Time) (int64, error)
}

// Config tunes the janitor.
type Config struct {
	// PresenceInactiveAfter is how long an online user may go unseen.
	PresenceInactiveAfter time.Duration
	// NotificationRetention is how long notification records are kept.
	NotificationRetention time.Duration
}

// Janitor schedules maintenance jobs on a crontab. Each run takes a named
// lock so only one node does the work.
type Janitor struct {
	ctab     *crontab.Crontab
	presence presence.Store
	purger   NotificationPurger
	locker   lock.Locker
	cfg      Config
	logger   *logger.Logger
	now      func() time.Time
}

// New creates a janitor.
func New(ps presence.Store, purger NotificationPurger, locker lock.Locker, cfg Config, log *logger.Logger) *Janitor {
	if cfg.PresenceInactiveAfter <= 0 {
		cfg.PresenceInactiveAfter = 15 * time.Minute
	}
	if cfg.NotificationRetention <= 0 {
		cfg.NotificationRetention = 30 * 24 * time.Hour
	}
	return &Janitor{
		ctab:     crontab.New(),
		presence: ps,
		purger:   purger,
		locker:   locker,
		cfg:      cfg,
		logger:   log.Component("janitor"),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run registers the jobs and blocks until ctx is done.
func (j *Janitor) Run(ctx context.Context) error {
	if err := j.ctab.AddJob(presenceSchedule, j.job(JobPresenceExpiry, j.ExpirePresenceOnce)); err != nil {
		return fmt.Errorf("add presence expiry job: %w", err)
	}
	if err := j.ctab.AddJob(purgeSchedule, j.job(JobNotificationPurge, j.PurgeOnce)); err != nil {
		return fmt.Errorf("add notification purge job: %w", err)
	}
	j.logger.Info("janitor scheduled",
		zap.String("presence_expiry", presenceSchedule),
		zap.String("notification_purge", purgeSchedule),
	)

	<-ctx.Done()
	j.ctab.Shutdown()
	return nil
}

func (j *Janitor) job(name string, fn func(context.Context) error) func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
		defer cancel()
		if err := j.runLocked(ctx, name, fn); err != nil {
			j.logger.Error("janitor job failed", zap.String("job", name), zap.Error(err))
		}
	}
}

func (j *Janitor) runLocked(ctx context.Context, name string, fn func(context.Context) error) error {
	release, err := j.locker.TryLock(ctx, "janitor:"+name, jobTimeout)
	if errors.Is(err, lock.ErrNotAcquired) {
		metrics.RecordJanitorRun(name, "skipped")
		return nil
	}
	if err != nil {
		metrics.RecordJanitorRun(name, "error")
		return err
	}
	defer release()

	if err := fn(ctx); err != nil {
		metrics.RecordJanitorRun(name, "error")
		return err
	}
	metrics.RecordJanitorRun(name, "ok")
	return nil
}

// ExpirePresenceOnce marks offline every user not seen within the
// inactivity window.
func (j *Janitor) ExpirePresenceOnce(ctx context.Context) error {
	cutoff := j.now().Add(-j.cfg.PresenceInactiveAfter)
	expired, err := j.presence.ExpireInactive(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("expire presence: %w", err)
	}
	if len(expired) > 0 {
		j.logger.Info("expired inactive users", zap.Int("count", len(expired)))
	}
	return nil
}

// PurgeOnce deletes notification records past the retention window.
func (j *Janitor) PurgeOnce(ctx context.Context) error {
	before := j.now().Add(-j.cfg.NotificationRetention)
	n, err := j.purger.PurgeNotifications(ctx, before)
	if err != nil {
		return fmt.Errorf("purge notifications: %w", err)
	}
	if n > 0 {
		j.logger.Info("purged notifications", zap.Int64("count", n), zap.Time("before", before))
	}
	return nil
}
