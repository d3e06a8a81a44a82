//go:build integration

package store

import (
	"context"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/capitalize-ai/realtime-messaging/internal/model"
)

// testDSN is set by TestMain. TEST_DATABASE_URL points the suite at an
// existing database instead of a container.
var testDSN string

func TestMain(m *testing.M) {
	os.Exit(runWithPostgres(m))
}

func runWithPostgres(m *testing.M) int {
	ctx := context.Background()

	testDSN = os.Getenv("TEST_DATABASE_URL")
	if testDSN == "" {
		container, err := tcpostgres.Run(ctx,
			"postgres:16-alpine",
			tcpostgres.WithDatabase("messaging"),
			tcpostgres.WithUsername("messaging"),
			tcpostgres.WithPassword("password"),
			testcontainers.WithWaitStrategy(
				wait.ForLog("database system is ready to accept connections").
					WithOccurrence(2).
					WithStartupTimeout(time.Minute),
			),
		)
		if err != nil {
			log.Printf("failed to start postgres container: %v", err)
		} else {
			defer func() {
				if err := container.Terminate(ctx); err != nil {
					log.Printf("failed to terminate container: %v", err)
				}
			}()
			testDSN, err = container.ConnectionString(ctx, "sslmode=disable")
			if err != nil {
				log.Printf("failed to get connection string: %v", err)
			}
		}
	}

	return m.Run()
}

func openTestPostgres(t *testing.T) *Postgres {
	t.Helper()
	if testDSN == "" {
		t.Skip("no postgres available")
	}
	ctx := context.Background()

	s, err := OpenPostgres(ctx, PostgresConfig{DSN: testDSN})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	require.NoError(t, s.db.WithContext(ctx).Exec(
		"TRUNCATE email_notifications, messages, conversation_participants, conversations, users",
	).Error)
	return s
}

func seededPostgres(t *testing.T) (*Postgres, *model.Conversation) {
	t.Helper()
	ctx := context.Background()
	s := openTestPostgres(t)
	require.NoError(t, s.PutUser(ctx, &model.User{ID: "u-alice", Username: "alice", Email: "a@x.com"}))
	require.NoError(t, s.PutUser(ctx, &model.User{ID: "u-bob", Username: "bob", Email: "b@x.com"}))
	conv, created, err := s.GetOrCreateConversation(ctx, "u-alice", "u-bob")
	require.NoError(t, err)
	require.True(t, created)
	return s, conv
}

func TestPostgresMarkReadReturnsOnlyNewlyRead(t *testing.T) {
	s, conv := seededPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	toBob := newMessage(conv, "u-alice", "u-bob", "hi", now)
	toAlice := newMessage(conv, "u-bob", "u-alice", "hey", now.Add(time.Second))
	_, err := s.CreateMessage(ctx, toBob)
	require.NoError(t, err)
	_, err = s.CreateMessage(ctx, toAlice)
	require.NoError(t, err)

	read, err := s.MarkRead(ctx, conv.ID, "u-bob", []string{toBob.ID, toAlice.ID, toBob.ID, "missing"})
	require.NoError(t, err)
	require.Len(t, read, 1)
	assert.Equal(t, toBob.ID, read[0].ID)
	assert.True(t, read[0].IsRead)
	assert.Equal(t, "hi", read[0].Content)

	again, err := s.MarkRead(ctx, conv.ID, "u-bob", []string{toBob.ID})
	require.NoError(t, err)
	assert.Empty(t, again)

	stored, err := s.GetMessage(ctx, toAlice.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsRead)
}

func TestPostgresMarkReadConcurrentCallersSeeEachMessageOnce(t *testing.T) {
	s, conv := seededPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()

	var ids []string
	for i := 0; i < 20; i++ {
		m := newMessage(conv, "u-alice", "u-bob", "m", now.Add(time.Duration(i)*time.Millisecond))
		_, err := s.CreateMessage(ctx, m)
		require.NoError(t, err)
		ids = append(ids, m.ID)
	}

	var (
		mu    sync.Mutex
		total int
		wg    sync.WaitGroup
	)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			read, err := s.MarkRead(ctx, conv.ID, "u-bob", ids)
			assert.NoError(t, err)
			mu.Lock()
			total += len(read)
			mu.Unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, len(ids), total)
}

func TestPostgresMarkConversationRead(t *testing.T) {
	s, conv := seededPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 3; i++ {
		_, err := s.CreateMessage(ctx, newMessage(conv, "u-alice", "u-bob", "m", now.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err)
	}

	read, err := s.MarkConversationRead(ctx, conv.ID, "u-bob")
	require.NoError(t, err)
	assert.Len(t, read, 3)

	read, err = s.MarkConversationRead(ctx, conv.ID, "u-alice")
	require.NoError(t, err)
	assert.Empty(t, read)
}

func TestPostgresCancelPendingNotifications(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, n := range []*model.EmailNotification{
		{ID: "n-pending", MessageID: "m1", RecipientID: "u-bob", Status: model.NotificationPending, CreatedAt: now, ScheduledFor: now},
		{ID: "n-sent", MessageID: "m1", RecipientID: "u-bob", Status: model.NotificationSent, CreatedAt: now, ScheduledFor: now},
		{ID: "n-other", MessageID: "m2", RecipientID: "u-bob", Status: model.NotificationPending, CreatedAt: now, ScheduledFor: now},
	} {
		require.NoError(t, s.CreateNotification(ctx, n))
	}

	cancelled, err := s.CancelPendingNotifications(ctx, "m1")
	require.NoError(t, err)
	require.Len(t, cancelled, 1)
	assert.Equal(t, "n-pending", cancelled[0].ID)
	assert.Equal(t, model.NotificationCancelled, cancelled[0].Status)

	again, err := s.CancelPendingNotifications(ctx, "m1")
	require.NoError(t, err)
	assert.Empty(t, again)

	sent, err := s.GetNotification(ctx, "n-sent")
	require.NoError(t, err)
	assert.Equal(t, model.NotificationSent, sent.Status)
	other, err := s.GetNotification(ctx, "n-other")
	require.NoError(t, err)
	assert.Equal(t, model.NotificationPending, other.Status)

	_, ok, err := s.TransitionNotification(ctx, "n-pending", model.NotificationPending, NotificationUpdate{
		Status: model.NotificationSent,
	})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPostgresListNotificationsByStatus(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i, st := range []model.NotificationStatus{
		model.NotificationFailed,
		model.NotificationSent,
		model.NotificationPending,
	} {
		at := now.Add(time.Duration(i) * time.Second)
		require.NoError(t, s.CreateNotification(ctx, &model.EmailNotification{
			ID: string(st), MessageID: "m1", RecipientID: "u-bob", Status: st, CreatedAt: at, ScheduledFor: at,
		}))
	}

	open, err := s.ListNotificationsByStatus(ctx, model.NotificationPending, model.NotificationFailed)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "failed", open[0].ID)
	assert.Equal(t, "pending", open[1].ID)
}
