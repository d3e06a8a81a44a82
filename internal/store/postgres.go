package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/capitalize-ai/realtime-messaging/internal/model"
	"github.com/capitalize-ai/realtime-messaging/pkg/apperr"
)

// PostgresConfig controls the database connection.
type PostgresConfig struct {
	DSN             string
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime time.Duration
}

// Postgres is a Store backed by PostgreSQL through gorm.
type Postgres struct {
	db *gorm.DB
}

// OpenPostgres connects, applies the schema and returns the store.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*Postgres, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database DSN is empty")
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN), &gorm.Config{
		PrepareStmt: true,
		Logger:      gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("retrieve sql db: %w", err)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	if err := db.WithContext(ctx).AutoMigrate(
		&userRow{},
		&conversationRow{},
		&participantRow{},
		&messageRow{},
		&notificationRow{},
	); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	return &Postgres{db: db}, nil
}

// Ping checks database connectivity.
func (s *Postgres) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the connection pool.
func (s *Postgres) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// PutUser upserts a user.
func (s *Postgres) PutUser(ctx context.Context, user *model.User) error {
	if user.ID == "" || user.Username == "" {
		return apperr.Validation("user id and username are required")
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(newUserRow(user)).Error
	if err != nil {
		return fmt.Errorf("put user: %w", err)
	}
	return nil
}

// GetUser returns a user by id.
func (s *Postgres) GetUser(ctx context.Context, id string) (*model.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, apperr.ErrUserNotFound, "get user")
	}
	return row.toModel(), nil
}

// GetUserByUsername returns a user by username.
func (s *Postgres) GetUserByUsername(ctx context.Context, username string) (*model.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).First(&row, "username = ?", username).Error; err != nil {
		return nil, notFound(err, apperr.ErrUserNotFound, "get user by username")
	}
	return row.toModel(), nil
}

// GetOrCreateConversation returns or creates the a-b conversation.
func (s *Postgres) GetOrCreateConversation(ctx context.Context, a, b string) (*model.Conversation, bool, error) {
	if a == "" || b == "" || a == b {
		return nil, false, apperr.ErrInvalidParticipants
	}
	lo, hi := a, b
	if lo > hi {
		lo, hi = hi, lo
	}

	var (
		conv    *model.Conversation
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var users int64
		if err := tx.Model(&userRow{}).Where("id IN ?", []string{a, b}).Count(&users).Error; err != nil {
			return err
		}
		if users != 2 {
			return apperr.ErrUserNotFound
		}

		now := time.Now().UTC()
		row := &conversationRow{
			ID:        uuid.Must(uuid.NewV7()).String(),
			UserA:     lo,
			UserB:     hi,
			CreatedAt: now,
			UpdatedAt: now,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Omit("Participants").Create(row)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 1 {
			parts := []participantRow{
				{ConversationID: row.ID, UserID: a, Position: 0},
				{ConversationID: row.ID, UserID: b, Position: 1},
			}
			if err := tx.Create(&parts).Error; err != nil {
				return err
			}
			created = true
		}

		var existing conversationRow
		if err := tx.Preload("Participants").First(&existing, "user_a = ? AND user_b = ?", lo, hi).Error; err != nil {
			return err
		}
		conv = existing.toModel()
		return nil
	})
	if err != nil {
		if apperr.KindOf(err) != apperr.KindInternal {
			return nil, false, err
		}
		return nil, false, fmt.Errorf("get or create conversation: %w", err)
	}
	return conv, created, nil
}

// GetConversation returns a conversation by id.
func (s *Postgres) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	return s.getConversation(s.db.WithContext(ctx), id)
}

func (s *Postgres) getConversation(tx *gorm.DB, id string) (*model.Conversation, error) {
	var row conversationRow
	if err := tx.Preload("Participants").First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, apperr.ErrConversationNotFound, "get conversation")
	}
	return row.toModel(), nil
}

// ListConversations returns the user's visible conversations.
func (s *Postgres) ListConversations(ctx context.Context, userID string) ([]*model.Conversation, error) {
	var rows []conversationRow
	err := s.db.WithContext(ctx).
		Preload("Participants").
		Joins("JOIN conversation_participants p ON p.conversation_id = conversations.id").
		Where("p.user_id = ? AND p.deleted = ?", userID, false).
		Order("conversations.updated_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}

	out := make([]*model.Conversation, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

// SoftDeleteConversation hides the conversation for userID.
func (s *Postgres) SoftDeleteConversation(ctx context.Context, conversationID, userID string, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&participantRow{}).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Updates(map[string]any{"deleted": true, "deleted_at": at})
	if res.Error != nil {
		return fmt.Errorf("soft delete conversation: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetConversation(ctx, conversationID); err != nil {
			return err
		}
		return apperr.ErrNotParticipant
	}
	return nil
}

// CreateMessage stores msg and updates its conversation in one transaction.
func (s *Postgres) CreateMessage(ctx context.Context, msg *model.Message) (*model.Conversation, error) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	var conv *model.Conversation
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var locked conversationRow
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&locked, "id = ?", msg.ConversationID).Error; err != nil {
			return notFound(err, apperr.ErrConversationNotFound, "lock conversation")
		}

		if err := tx.Create(newMessageRow(msg)).Error; err != nil {
			return err
		}

		if err := tx.Model(&conversationRow{}).
			Where("id = ? AND updated_at < ?", msg.ConversationID, msg.CreatedAt).
			Update("updated_at", msg.CreatedAt).Error; err != nil {
			return err
		}

		if err := tx.Model(&participantRow{}).
			Where("conversation_id = ? AND deleted = ? AND (deleted_at IS NULL OR deleted_at <= ?)", msg.ConversationID, true, msg.CreatedAt).
			Update("deleted", false).Error; err != nil {
			return err
		}

		var err error
		conv, err = s.getConversation(tx, msg.ConversationID)
		return err
	})
	if err != nil {
		if apperr.KindOf(err) != apperr.KindInternal {
			return nil, err
		}
		return nil, fmt.Errorf("create message: %w", err)
	}
	return conv, nil
}

// GetMessage returns a message by id.
func (s *Postgres) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var row messageRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, apperr.ErrMessageNotFound, "get message")
	}
	return row.toModel(), nil
}

// LastMessage returns the newest message after since.
func (s *Postgres) LastMessage(ctx context.Context, conversationID string, since time.Time) (*model.Message, error) {
	var rows []messageRow
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND created_at > ?", conversationID, since).
		Order("created_at DESC").
		Limit(1).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("last message: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toModel(), nil
}

// UpdateMessageContent replaces the text of a message.
func (s *Postgres) UpdateMessageContent(ctx context.Context, id, content string, at time.Time) (*model.Message, error) {
	res := s.db.WithContext(ctx).
		Model(&messageRow{}).
		Where("id = ?", id).
		Updates(map[string]any{"content": content, "edited_at": at})
	if res.Error != nil {
		return nil, fmt.Errorf("update message: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.ErrMessageNotFound
	}
	return s.GetMessage(ctx, id)
}

// DeleteMessage removes a message permanently.
func (s *Postgres) DeleteMessage(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Delete(&messageRow{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete message: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return apperr.ErrMessageNotFound
	}
	return nil
}

// MarkRead flips is_read on unread messages addressed to readerID.
func (s *Postgres) MarkRead(ctx context.Context, conversationID, readerID string, ids []string) ([]*model.Message, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, nil
	}
	return s.markRead(ctx, s.db.WithContext(ctx).
		Where("id IN ? AND conversation_id = ? AND recipient_id = ? AND is_read = ?", ids, conversationID, readerID, false))
}

// MarkConversationRead marks everything addressed to readerID as read.
func (s *Postgres) MarkConversationRead(ctx context.Context, conversationID, readerID string) ([]*model.Message, error) {
	if _, err := s.GetConversation(ctx, conversationID); err != nil {
		return nil, err
	}
	return s.markRead(ctx, s.db.WithContext(ctx).
		Where("conversation_id = ? AND recipient_id = ? AND is_read = ?", conversationID, readerID, false))
}

// markRead runs "set read where still unread" and returns the rows the
// update actually changed.
func (s *Postgres) markRead(ctx context.Context, scope *gorm.DB) ([]*model.Message, error) {
	var rows []messageRow
	err := scope.Model(&rows).
		Clauses(clause.Returning{}).
		Update("is_read", true).Error
	if err != nil {
		return nil, fmt.Errorf("mark read: %w", err)
	}

	out := make([]*model.Message, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

// UnreadCounts returns the unread badge state for userID.
func (s *Postgres) UnreadCounts(ctx context.Context, userID string) (*model.UnreadCounts, error) {
	var rows []struct {
		ConversationID string
		Count          int
	}
	err := s.db.WithContext(ctx).Raw(`
		SELECT m.conversation_id, COUNT(*) AS count
		FROM messages m
		JOIN conversation_participants p
		  ON p.conversation_id = m.conversation_id AND p.user_id = ?
		WHERE m.recipient_id = ?
		  AND m.is_read = FALSE
		  AND p.deleted = FALSE
		  AND (p.deleted_at IS NULL OR m.created_at > p.deleted_at)
		GROUP BY m.conversation_id`, userID, userID).Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("unread counts: %w", err)
	}

	counts := &model.UnreadCounts{ConversationCounts: make(map[string]int, len(rows))}
	for _, r := range rows {
		if r.Count == 0 {
			continue
		}
		counts.ConversationCounts[r.ConversationID] = r.Count
		counts.TotalUnreadCount += r.Count
	}
	return counts, nil
}

// CreateNotification stores a new notification.
func (s *Postgres) CreateNotification(ctx context.Context, n *model.EmailNotification) error {
	if err := s.db.WithContext(ctx).Create(newNotificationRow(n)).Error; err != nil {
		return fmt.Errorf("create notification: %w", err)
	}
	return nil
}

// GetNotification returns a notification by id.
func (s *Postgres) GetNotification(ctx context.Context, id string) (*model.EmailNotification, error) {
	var row notificationRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, apperr.ErrNotificationNotFound, "get notification")
	}
	return row.toModel(), nil
}

// ListNotifications returns every notification of a message, oldest first.
func (s *Postgres) ListNotifications(ctx context.Context, messageID string) ([]*model.EmailNotification, error) {
	var rows []notificationRow
	if err := s.db.WithContext(ctx).Where("message_id = ?", messageID).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	out := make([]*model.EmailNotification, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

// ListNotificationsByStatus returns notifications in any of statuses.
func (s *Postgres) ListNotificationsByStatus(ctx context.Context, statuses ...model.NotificationStatus) ([]*model.EmailNotification, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	names := make([]string, len(statuses))
	for i, st := range statuses {
		names[i] = string(st)
	}
	var rows []notificationRow
	if err := s.db.WithContext(ctx).Where("status IN ?", names).Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list notifications by status: %w", err)
	}
	out := make([]*model.EmailNotification, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

// TransitionNotification applies update if the status is still from.
func (s *Postgres) TransitionNotification(ctx context.Context, id string, from model.NotificationStatus, update NotificationUpdate) (*model.EmailNotification, bool, error) {
	values := map[string]any{"status": string(update.Status)}
	if update.SentAt != nil {
		values["sent_at"] = *update.SentAt
	}
	if update.ErrorMessage != nil {
		values["error_message"] = *update.ErrorMessage
	}
	if update.TaskID != nil {
		values["task_id"] = *update.TaskID
	}
	if update.IncrementRetry {
		values["retry_count"] = gorm.Expr("retry_count + 1")
	}

	res := s.db.WithContext(ctx).
		Model(&notificationRow{}).
		Where("id = ? AND status = ?", id, string(from)).
		Updates(values)
	if res.Error != nil {
		return nil, false, fmt.Errorf("transition notification: %w", res.Error)
	}

	n, err := s.GetNotification(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return n, res.RowsAffected == 1, nil
}

// CancelPendingNotifications cancels all pending reminders of a message.
func (s *Postgres) CancelPendingNotifications(ctx context.Context, messageID string) ([]*model.EmailNotification, error) {
	var rows []notificationRow
	err := s.db.WithContext(ctx).
		Model(&rows).
		Clauses(clause.Returning{}).
		Where("message_id = ? AND status = ?", messageID, string(model.NotificationPending)).
		Update("status", string(model.NotificationCancelled)).Error
	if err != nil {
		return nil, fmt.Errorf("cancel pending notifications: %w", err)
	}

	out := make([]*model.EmailNotification, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

// PurgeNotifications deletes notifications created before the cutoff.
func (s *Postgres) PurgeNotifications(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Delete(&notificationRow{}, "created_at < ?", before)
	if res.Error != nil {
		return 0, fmt.Errorf("purge notifications: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func notFound(err error, sentinel error, op string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return fmt.Errorf("%s: %w", op, err)
}
