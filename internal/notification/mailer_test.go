package notification

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/realtime-messaging/internal/model"
	"github.com/capitalize-ai/realtime-messaging/pkg/logger"
)

var testEmail = Email{
	FromName: "Messages",
	From:     "noreply@example.com",
	ToName:   "Bob",
	To:       "bob@example.com",
	Subject:  "New message from Alice",
	Body:     "line one\nline two",
}

func TestBrevoMailerSend(t *testing.T) {
	var got brevoRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v3/smtp/email", r.URL.Path)
		assert.Equal(t, "secret-key", r.Header.Get("api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"messageId":"<abc@smtp-relay>"}`))
	}))
	defer srv.Close()

	m := NewBrevoMailer(BrevoConfig{APIKey: "secret-key", BaseURL: srv.URL})
	require.NoError(t, m.Send(context.Background(), testEmail))

	assert.Equal(t, "noreply@example.com", got.Sender.Email)
	assert.Equal(t, "Messages", got.Sender.Name)
	require.Len(t, got.To, 1)
	assert.Equal(t, "bob@example.com", got.To[0].Email)
	assert.Equal(t, testEmail.Subject, got.Subject)
	assert.Equal(t, testEmail.Body, got.TextContent)
	assert.Equal(t, "brevo", m.Name())
}

func TestBrevoMailerAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"code":"unauthorized"}`))
	}))
	defer srv.Close()

	m := NewBrevoMailer(BrevoConfig{APIKey: "bad", BaseURL: srv.URL})
	err := m.Send(context.Background(), testEmail)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 401")
}

func TestSMTPMailerSend(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "smtp.example.com", Port: 587, Username: "user", Password: "pass"})

	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
		gotAuth smtp.Auth
	)
	m.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotTo, gotMsg = addr, a, to, string(msg)
		assert.Equal(t, "noreply@example.com", from)
		return nil
	}

	require.NoError(t, m.Send(context.Background(), testEmail))
	assert.Equal(t, "smtp.example.com:587", gotAddr)
	assert.NotNil(t, gotAuth)
	assert.Equal(t, []string{"bob@example.com"}, gotTo)
	assert.Contains(t, gotMsg, "From: Messages <noreply@example.com>\r\n")
	assert.Contains(t, gotMsg, "Subject: New message from Alice\r\n")
	assert.True(t, strings.HasSuffix(gotMsg, "\r\n\r\nline one\r\nline two"))
}

func TestSMTPMailerWrapsErrors(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "localhost", Port: 25})
	m.send = func(string, smtp.Auth, string, []string, []byte) error {
		return errors.New("connection refused")
	}
	err := m.Send(context.Background(), testEmail)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bob@example.com")
}

func TestSMTPMailerHonorsCancelledContext(t *testing.T) {
	m := NewSMTPMailer(SMTPConfig{Host: "localhost", Port: 25})
	m.send = func(string, smtp.Auth, string, []string, []byte) error {
		t.Fatal("send should not be called")
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, m.Send(ctx, testEmail), context.Canceled)
}

func TestLogMailer(t *testing.T) {
	m := NewLogMailer(logger.Nop())
	assert.Equal(t, "log", m.Name())
	assert.NoError(t, m.Send(context.Background(), testEmail))
}

func TestRenderReminder(t *testing.T) {
	sender := &model.User{ID: "a", Username: "alice", DisplayName: "Alice"}
	recipient := &model.User{ID: "b", Username: "bob"}

	long := strings.Repeat("x", 150)
	msg := &model.Message{Type: model.MessageTypeText, Content: long}

	subject, body, err := renderReminder(sender, recipient, msg, false)
	require.NoError(t, err)
	assert.Equal(t, "New message from Alice", subject)
	assert.Contains(t, body, "Hi bob,")
	assert.Contains(t, body, strings.Repeat("x", 100)+"...")
	assert.NotContains(t, body, strings.Repeat("x", 101))

	subject, body, err = renderReminder(sender, recipient, &model.Message{Type: model.MessageTypeAudio}, true)
	require.NoError(t, err)
	assert.Equal(t, "Follow-up: New message from Alice", subject)
	assert.Contains(t, body, "Audio message")
	assert.Contains(t, body, "still have an unread message")
}
