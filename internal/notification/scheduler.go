// Package notification schedules email reminders for unread messages and
// cancels them when the message is read.
package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/capitalize-ai/realtime-messaging/internal/model"
	"github.com/capitalize-ai/realtime-messaging/internal/presence"
	"github.com/capitalize-ai/realtime-messaging/internal/store"
	"github.com/capitalize-ai/realtime-messaging/pkg/apperr"
	"github.com/capitalize-ai/realtime-messaging/pkg/logger"
	"github.com/capitalize-ai/realtime-messaging/pkg/metrics"
)

// Store is the persistence the scheduler needs.
type Store interface {
	store.UserStore
	store.NotificationStore
	GetMessage(ctx context.Context, id string) (*model.Message, error)
}

// Config tunes the scheduler.
type Config struct {
	Workers       int
	QueueSize     int
	FollowUpDelay time.Duration
	JobTimeout    time.Duration
	Retry         RetryPolicy
	FromEmail     string
	FromName      string
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Workers:       4,
		QueueSize:     1024,
		FollowUpDelay: time.Hour,
		JobTimeout:    time.Minute,
		Retry:         DefaultRetryPolicy(),
		FromEmail:     "noreply@localhost",
		FromName:      "Messages",
	}
}

type taskKind int

const (
	taskDeliver taskKind = iota
	taskRetry
	taskFollowUp
)

// task is a unit of work for the pool. id is a notification id, or a
// message id for follow-up checks.
type task struct {
	kind taskKind
	id   string
}

// Scheduler runs reminder delivery on its own worker pool. Every job
// re-validates read and presence state when it fires.
type Scheduler struct {
	store    Store
	presence presence.Store
	mailer   Mailer
	cfg      Config
	logger   *logger.Logger
	now      func() time.Time

	queue    chan task
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu        sync.Mutex
	pending   map[string]*time.Timer // notification id -> not yet started job
	followUps map[string]*time.Timer // message id -> not yet started follow-up check
}

// NewScheduler creates a scheduler. Call Start to run the workers.
func NewScheduler(st Store, ps presence.Store, mailer Mailer, cfg Config, log *logger.Logger) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = time.Minute
	}
	return &Scheduler{
		store:     st,
		presence:  ps,
		mailer:    mailer,
		cfg:       cfg,
		logger:    log.Component("notification"),
		now:       func() time.Time { return time.Now().UTC() },
		queue:     make(chan task, cfg.QueueSize),
		stopChan:  make(chan struct{}),
		pending:   make(map[string]*time.Timer),
		followUps: make(map[string]*time.Timer),
	}
}

// Start launches the worker pool and re-arms reminders left open by a
// previous process.
func (s *Scheduler) Start() {
	s.logger.Info("starting notification workers", zap.Int("workers", s.cfg.Workers))
	for i := 0; i < s.cfg.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
	s.resume()
}

// resume schedules jobs for stored reminders whose timers were lost with
// the previous process: pending deliveries, retryable failures and
// follow-up checks still owed after a sent first reminder.
func (s *Scheduler) resume() {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	open, err := s.store.ListNotificationsByStatus(ctx,
		model.NotificationPending, model.NotificationFailed, model.NotificationSent)
	if err != nil {
		s.logger.Error("failed to load open notifications", zap.Error(err))
		return
	}

	hasFollowUp := make(map[string]bool)
	for _, n := range open {
		if n.IsFollowUp {
			hasFollowUp[n.MessageID] = true
		}
	}

	now := s.now()
	var resumed int
	for _, n := range open {
		switch {
		case n.Status == model.NotificationPending:
			s.schedule(task{kind: taskDeliver, id: n.ID}, 0)
		case n.Status == model.NotificationFailed && s.cfg.Retry.ShouldRetry(n.RetryCount):
			s.schedule(task{kind: taskRetry, id: n.ID}, s.cfg.Retry.CalculateDelay(n.RetryCount))
		case n.Status == model.NotificationSent && n.IsFirstReminder && n.SentAt != nil && !hasFollowUp[n.MessageID]:
			delay := n.SentAt.Add(s.cfg.FollowUpDelay).Sub(now)
			if delay < 0 {
				delay = 0
			}
			s.schedule(task{kind: taskFollowUp, id: n.MessageID}, delay)
		default:
			continue
		}
		resumed++
	}
	if resumed > 0 {
		s.logger.Info("resumed stored reminders", zap.Int("count", resumed))
	}
}

// Stop cancels all timers and waits for in-flight jobs.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopChan)

		s.mu.Lock()
		for id, t := range s.pending {
			t.Stop()
			delete(s.pending, id)
		}
		for id, t := range s.followUps {
			t.Stop()
			delete(s.followUps, id)
		}
		s.mu.Unlock()

		done := make(chan struct{})
		go func() {
			s.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			s.logger.Info("notification workers stopped")
		case <-time.After(30 * time.Second):
			s.logger.Warn("notification workers shutdown timeout")
		}
	})
}

// OnMessageCreated creates a first reminder when the recipient is offline
// and has an email address.
func (s *Scheduler) OnMessageCreated(ctx context.Context, msg *model.Message) error {
	recipient, err := s.store.GetUser(ctx, msg.RecipientID)
	if err != nil {
		return fmt.Errorf("load recipient: %w", err)
	}
	if recipient.Email == "" {
		return nil
	}

	online, err := s.presence.IsOnline(ctx, recipient.ID)
	if err != nil {
		return fmt.Errorf("check presence: %w", err)
	}
	if online {
		return nil
	}

	n, err := s.createReminder(ctx, msg, recipient, false)
	if err != nil {
		return err
	}
	s.schedule(task{kind: taskDeliver, id: n.ID}, 0)
	return nil
}

// OnMessageRead cancels the message's pending reminders, revokes their jobs
// if they have not started, and drops any scheduled follow-up check.
func (s *Scheduler) OnMessageRead(ctx context.Context, messageID string) error {
	s.revokeFollowUp(messageID)

	cancelled, err := s.store.CancelPendingNotifications(ctx, messageID)
	if err != nil {
		return fmt.Errorf("cancel pending notifications: %w", err)
	}
	for _, n := range cancelled {
		s.revoke(n.ID)
		metrics.RecordNotification(string(model.NotificationCancelled), n.Kind())
		s.logger.Debug("notification cancelled on read",
			zap.String("notification_id", n.ID),
			zap.String("message_id", messageID),
		)
	}
	return nil
}

func (s *Scheduler) createReminder(ctx context.Context, msg *model.Message, recipient *model.User, followUp bool) (*model.EmailNotification, error) {
	sender, err := s.store.GetUser(ctx, msg.SenderID)
	if err != nil {
		return nil, fmt.Errorf("load sender: %w", err)
	}
	subject, body, err := renderReminder(sender, recipient, msg, followUp)
	if err != nil {
		return nil, fmt.Errorf("render reminder: %w", err)
	}

	now := s.now()
	n := &model.EmailNotification{
		ID:              uuid.Must(uuid.NewV7()).String(),
		MessageID:       msg.ID,
		RecipientID:     recipient.ID,
		RecipientEmail:  recipient.Email,
		Status:          model.NotificationPending,
		CreatedAt:       now,
		ScheduledFor:    now,
		Subject:         subject,
		Body:            body,
		TaskID:          uuid.Must(uuid.NewV7()).String(),
		MaxRetries:      s.cfg.Retry.MaxRetries,
		IsFirstReminder: !followUp,
		IsFollowUp:      followUp,
	}
	if err := s.store.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("create notification: %w", err)
	}
	metrics.RecordNotification(string(model.NotificationPending), n.Kind())
	return n, nil
}

// schedule queues t after delay. Notification jobs stay revocable until a
// worker picks them up.
func (s *Scheduler) schedule(t task, delay time.Duration) {
	timers := s.pending
	if t.kind == taskFollowUp {
		timers = s.followUps
	}

	s.mu.Lock()
	if _, exists := timers[t.id]; exists {
		s.mu.Unlock()
		return
	}
	timers[t.id] = time.AfterFunc(delay, func() { s.enqueue(t) })
	s.mu.Unlock()
}

func (s *Scheduler) enqueue(t task) {
	select {
	case s.queue <- t:
	case <-s.stopChan:
	}
}

// claim removes t from the revocable set. It returns false if t was revoked.
func (s *Scheduler) claim(t task) bool {
	timers := s.pending
	if t.kind == taskFollowUp {
		timers = s.followUps
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := timers[t.id]; !ok {
		return false
	}
	delete(timers, t.id)
	return true
}

func (s *Scheduler) revoke(notificationID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[notificationID]; ok {
		t.Stop()
		delete(s.pending, notificationID)
	}
}

func (s *Scheduler) revokeFollowUp(messageID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.followUps[messageID]; ok {
		t.Stop()
		delete(s.followUps, messageID)
	}
}

func (s *Scheduler) worker(n int) {
	defer s.wg.Done()
	log := s.logger.With(zap.Int("worker", n))

	for {
		select {
		case <-s.stopChan:
			return
		case t := <-s.queue:
			if !s.claim(t) {
				continue
			}
			s.run(log, t)
		}
	}
}

func (s *Scheduler) run(log *logger.Logger, t task) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("notification job panicked", zap.String("id", t.id), zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.JobTimeout)
	defer cancel()

	switch t.kind {
	case taskDeliver:
		s.deliver(ctx, t.id)
	case taskRetry:
		_, ok, err := s.store.TransitionNotification(ctx, t.id, model.NotificationFailed, store.NotificationUpdate{
			Status: model.NotificationPending,
		})
		if err != nil {
			log.Error("failed to resume notification", zap.String("notification_id", t.id), zap.Error(err))
			return
		}
		if ok {
			s.deliver(ctx, t.id)
		}
	case taskFollowUp:
		s.followUp(ctx, t.id)
	}
}

// deliver sends one pending notification after re-checking that the
// message is still unread and the recipient still offline.
func (s *Scheduler) deliver(ctx context.Context, id string) {
	log := s.logger.With(zap.String("notification_id", id))

	n, err := s.store.GetNotification(ctx, id)
	if err != nil {
		log.Warn("notification lookup failed", zap.Error(err))
		return
	}
	if n.Status != model.NotificationPending {
		return
	}

	msg, err := s.store.GetMessage(ctx, n.MessageID)
	if errors.Is(err, apperr.ErrMessageNotFound) {
		s.cancel(ctx, n, "message deleted")
		return
	}
	if err != nil {
		s.fail(ctx, n, fmt.Errorf("load message: %w", err))
		return
	}
	if msg.IsRead {
		s.cancel(ctx, n, "message read")
		return
	}

	online, err := s.presence.IsOnline(ctx, n.RecipientID)
	if err != nil {
		s.fail(ctx, n, fmt.Errorf("check presence: %w", err))
		return
	}
	if online {
		s.cancel(ctx, n, "recipient online")
		return
	}

	recipient, err := s.store.GetUser(ctx, n.RecipientID)
	if err != nil {
		s.fail(ctx, n, fmt.Errorf("load recipient: %w", err))
		return
	}

	start := time.Now()
	err = s.mailer.Send(ctx, Email{
		FromName: s.cfg.FromName,
		From:     s.cfg.FromEmail,
		ToName:   recipient.Name(),
		To:       n.RecipientEmail,
		Subject:  n.Subject,
		Body:     n.Body,
	})
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RecordEmailSend(s.mailer.Name(), status, time.Since(start).Seconds())
	if err != nil {
		s.fail(ctx, n, err)
		return
	}

	sentAt := s.now()
	updated, ok, err := s.store.TransitionNotification(ctx, n.ID, model.NotificationPending, store.NotificationUpdate{
		Status: model.NotificationSent,
		SentAt: &sentAt,
	})
	if err != nil {
		log.Error("failed to mark notification sent", zap.Error(err))
		return
	}
	if !ok {
		log.Info("email sent after notification left pending",
			zap.String("status", string(updated.Status)),
		)
		return
	}

	metrics.RecordNotification(string(model.NotificationSent), updated.Kind())
	log.Info("reminder sent",
		zap.String("message_id", msg.ID),
		zap.String("kind", updated.Kind()),
	)

	if updated.IsFirstReminder {
		s.schedule(task{kind: taskFollowUp, id: msg.ID}, s.cfg.FollowUpDelay)
	}
}

func (s *Scheduler) cancel(ctx context.Context, n *model.EmailNotification, reason string) {
	_, ok, err := s.store.TransitionNotification(ctx, n.ID, model.NotificationPending, store.NotificationUpdate{
		Status: model.NotificationCancelled,
	})
	if err != nil {
		s.logger.Error("failed to cancel notification", zap.String("notification_id", n.ID), zap.Error(err))
		return
	}
	if ok {
		metrics.RecordNotification(string(model.NotificationCancelled), n.Kind())
		s.logger.Debug("notification cancelled",
			zap.String("notification_id", n.ID),
			zap.String("reason", reason),
		)
	}
}

// fail records a failed attempt and schedules a retry with backoff until
// the policy is exhausted.
func (s *Scheduler) fail(ctx context.Context, n *model.EmailNotification, cause error) {
	msg := cause.Error()
	updated, ok, err := s.store.TransitionNotification(ctx, n.ID, model.NotificationPending, store.NotificationUpdate{
		Status:         model.NotificationFailed,
		ErrorMessage:   &msg,
		IncrementRetry: true,
	})
	if err != nil {
		s.logger.Error("failed to record notification failure", zap.String("notification_id", n.ID), zap.Error(err))
		return
	}
	if !ok {
		return
	}

	log := s.logger.With(
		zap.String("notification_id", n.ID),
		zap.Int("retry_count", updated.RetryCount),
		zap.Error(cause),
	)
	if !s.cfg.Retry.ShouldRetry(updated.RetryCount) {
		metrics.RecordNotification(string(model.NotificationFailed), updated.Kind())
		log.Error("reminder failed permanently")
		return
	}

	delay := s.cfg.Retry.CalculateDelay(updated.RetryCount)
	log.Warn("reminder send failed, retrying", zap.Duration("delay", delay))
	s.schedule(task{kind: taskRetry, id: n.ID}, delay)
}

// followUp creates the single follow-up reminder if the message is still
// unread and the recipient still offline.
func (s *Scheduler) followUp(ctx context.Context, messageID string) {
	log := s.logger.With(zap.String("message_id", messageID))

	msg, err := s.store.GetMessage(ctx, messageID)
	if errors.Is(err, apperr.ErrMessageNotFound) {
		return
	}
	if err != nil {
		log.Warn("follow-up message lookup failed", zap.Error(err))
		return
	}
	if msg.IsRead {
		return
	}

	online, err := s.presence.IsOnline(ctx, msg.RecipientID)
	if err != nil {
		log.Warn("follow-up presence check failed", zap.Error(err))
		return
	}
	if online {
		return
	}

	existing, err := s.store.ListNotifications(ctx, messageID)
	if err != nil {
		log.Warn("follow-up lookup failed", zap.Error(err))
		return
	}
	for _, n := range existing {
		if n.IsFollowUp {
			return
		}
	}

	recipient, err := s.store.GetUser(ctx, msg.RecipientID)
	if err != nil {
		log.Warn("follow-up recipient lookup failed", zap.Error(err))
		return
	}
	if recipient.Email == "" {
		return
	}

	n, err := s.createReminder(ctx, msg, recipient, true)
	if err != nil {
		log.Error("failed to create follow-up", zap.Error(err))
		return
	}
	s.schedule(task{kind: taskDeliver, id: n.ID}, 0)
}
