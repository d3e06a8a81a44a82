package service

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/capitalize-ai/realtime-messaging/internal/broadcast"
	"github.com/capitalize-ai/realtime-messaging/internal/media"
	"github.com/capitalize-ai/realtime-messaging/internal/model"
	"github.com/capitalize-ai/realtime-messaging/internal/presence"
	"github.com/capitalize-ai/realtime-messaging/internal/store"
	"github.com/capitalize-ai/realtime-messaging/pkg/apperr"
	"github.com/capitalize-ai/realtime-messaging/pkg/logger"
)

type recorder struct {
	mu     sync.Mutex
	events []broadcast.Event
}

func (r *recorder) Deliver(ev broadcast.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return true
}

func (r *recorder) named(name string) []broadcast.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []broadcast.Event
	for _, ev := range r.events {
		if ev.Name == name {
			out = append(out, ev)
		}
	}
	return out
}

type fakeNotifier struct {
	mu      sync.Mutex
	created []string
	read    []string
	err     error
}

func (n *fakeNotifier) OnMessageCreated(ctx context.Context, msg *model.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, msg.ID)
	return n.err
}

func (n *fakeNotifier) OnMessageRead(ctx context.Context, messageID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.read = append(n.read, messageID)
	return n.err
}

type env struct {
	store    *store.Memory
	presence *presence.Memory
	hub      *broadcast.Hub
	notifier *fakeNotifier
	convs    *ConversationService
	msgs     *MessageService

	alice, bob, carol *model.User
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	e := &env{
		store:    store.NewMemory(),
		presence: presence.NewMemory(),
		hub:      broadcast.NewHub(logger.Nop()),
		notifier: &fakeNotifier{},
		alice:    &model.User{ID: "u-alice", Username: "alice", ProfilePicture: "avatars/alice.png"},
		bob:      &model.User{ID: "u-bob", Username: "bob", Email: "bob@example.com"},
		carol:    &model.User{ID: "u-carol", Username: "carol"},
	}
	for _, u := range []*model.User{e.alice, e.bob, e.carol} {
		require.NoError(t, e.store.PutUser(ctx, u))
	}

	renderer := NewRenderer(e.store, e.presence, media.NewBaseURL("https://cdn.example.com/media/"), logger.Nop())
	e.convs = NewConversationService(e.store, e.hub, renderer, logger.Nop())
	e.msgs = NewMessageService(e.store, e.convs, e.hub, e.notifier, logger.Nop())
	return e
}

func (e *env) conversation(t *testing.T) *model.ConversationView {
	t.Helper()
	view, _, err := e.convs.GetOrCreate(context.Background(), e.alice.ID, e.bob.ID)
	require.NoError(t, err)
	return view
}

func (e *env) join(group string) *recorder {
	r := &recorder{}
	e.hub.Join(group, r)
	return r
}

func text(s string) SendRequest {
	return SendRequest{MessageType: model.MessageTypeText, Content: s}
}

func TestGetOrCreateIsIdempotentAndAnnouncesOnce(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	aliceList := e.join(broadcast.UserGroup(e.alice.ID))
	bobList := e.join(broadcast.UserGroup(e.bob.ID))

	first, created, err := e.convs.GetOrCreate(ctx, e.alice.ID, e.bob.ID)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := e.convs.GetOrCreate(ctx, e.bob.ID, e.alice.ID)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	for _, r := range []*recorder{aliceList, bobList} {
		updates := r.named(model.EventConversationUpdate)
		require.Len(t, updates, 1)
		frame := updates[0].Payload.(model.ConversationUpdateFrame)
		assert.True(t, frame.IsNew)
		assert.Equal(t, first.ID, frame.Conversation.ID)
	}
}

func TestGetOrCreateRejectsSelfConversation(t *testing.T) {
	e := newEnv(t)
	_, _, err := e.convs.GetOrCreate(context.Background(), e.alice.ID, e.alice.ID)
	assert.ErrorIs(t, err, apperr.ErrInvalidParticipants)

	_, _, err = e.convs.GetOrCreate(context.Background(), e.alice.ID, "nobody")
	assert.ErrorIs(t, err, apperr.ErrUserNotFound)
}

func TestSendBroadcastsAndNotifies(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	conv := e.conversation(t)
	chat := e.join(broadcast.ConversationGroup(conv.ID))
	bobList := e.join(broadcast.UserGroup(e.bob.ID))

	view, err := e.msgs.Send(ctx, e.alice, conv.ID, text("  hi  "))
	require.NoError(t, err)
	assert.Equal(t, "hi", view.Content)
	assert.Equal(t, "alice", view.SenderUsername)
	assert.Equal(t, "https://cdn.example.com/media/avatars/alice.png", view.SenderProfilePicture)
	assert.Equal(t, string(model.ActionSend), view.ActionType)

	msgs := chat.named(model.EventChatMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hi", msgs[0].Payload.(*model.MessageView).Content)

	counts := bobList.named(model.EventNotificationCount)
	require.Len(t, counts, 1)
	frame := counts[0].Payload.(model.NotificationCountFrame)
	assert.Equal(t, 1, frame.TotalUnreadCount)
	assert.Equal(t, 1, frame.ConversationCounts[conv.ID])

	updates := bobList.named(model.EventConversationUpdate)
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1].Payload.(model.ConversationUpdateFrame)
	assert.False(t, last.IsNew)
	require.NotNil(t, last.Conversation.LastMessage)
	assert.Equal(t, view.ID, last.Conversation.LastMessage.ID)

	stored, err := e.store.GetMessage(ctx, view.ID)
	require.NoError(t, err)
	assert.Equal(t, e.bob.ID, stored.RecipientID)
	assert.Equal(t, []string{view.ID}, e.notifier.created)
}

func TestSendSucceedsWhenNotifierFails(t *testing.T) {
	e := newEnv(t)
	e.notifier.err = errors.New("scheduler down")
	conv := e.conversation(t)

	_, err := e.msgs.Send(context.Background(), e.alice, conv.ID, text("hi"))
	assert.NoError(t, err)
}

func TestSendValidation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	conv := e.conversation(t)

	tests := []struct {
		name string
		req  SendRequest
		want error
	}{
		{"empty text", text("   "), apperr.ErrContentRequired},
		{"audio without payload", SendRequest{MessageType: model.MessageTypeAudio}, apperr.ErrAudioRequired},
		{"bad base64", SendRequest{MessageType: model.MessageTypeAudio, AudioDataBase64: "%%%"}, apperr.ErrInvalidAudio},
		{"unknown type", SendRequest{MessageType: "video", Content: "x"}, apperr.ErrUnknownMessageType},
		{"oversized text", text(strings.Repeat("x", MaxContentLength+1)), apperr.ErrContentTooLong},
		{"invalid utf-8", text(string([]byte{0xff, 0xfe})), apperr.ErrContentNotUTF8},
		{"oversized audio caption", SendRequest{
			MessageType:     model.MessageTypeAudio,
			AudioDataBase64: base64.StdEncoding.EncodeToString([]byte{1}),
			Content:         strings.Repeat("x", MaxContentLength+1),
		}, apperr.ErrContentTooLong},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.msgs.Send(ctx, e.alice, conv.ID, tt.req)
			assert.ErrorIs(t, err, tt.want)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}

	_, err := e.msgs.Send(ctx, e.carol, conv.ID, text("let me in"))
	assert.ErrorIs(t, err, apperr.ErrNotParticipant)

	_, err = e.msgs.Send(ctx, e.alice, "missing", text("hello?"))
	assert.ErrorIs(t, err, apperr.ErrConversationNotFound)
}

func TestSendAudioRendersBase64(t *testing.T) {
	e := newEnv(t)
	conv := e.conversation(t)
	payload := base64.StdEncoding.EncodeToString([]byte("RIFF....WAVE"))

	view, err := e.msgs.Send(context.Background(), e.alice, conv.ID, SendRequest{
		MessageType:     model.MessageTypeAudio,
		AudioDataBase64: payload,
	})
	require.NoError(t, err)
	assert.Equal(t, model.MessageTypeAudio, view.MessageType)
	assert.Equal(t, payload, view.AudioDataBase64)
}

func TestEditBySenderOnly(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	conv := e.conversation(t)
	sent, err := e.msgs.Send(ctx, e.alice, conv.ID, text("helo"))
	require.NoError(t, err)
	chat := e.join(broadcast.ConversationGroup(conv.ID))

	_, err = e.msgs.Edit(ctx, e.bob, conv.ID, sent.ID, "hijacked")
	assert.ErrorIs(t, err, apperr.ErrEditForbidden)
	assert.Empty(t, chat.named(model.EventChatMessage))

	stored, err := e.store.GetMessage(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, "helo", stored.Content)

	view, err := e.msgs.Edit(ctx, e.alice, conv.ID, sent.ID, "  hello  ")
	require.NoError(t, err)
	assert.Equal(t, "hello", view.Content)
	assert.True(t, view.Edited)
	assert.Equal(t, sent.ID, view.ID)

	msgs := chat.named(model.EventChatMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello", msgs[0].Payload.(*model.MessageView).Content)
	assert.Equal(t, string(model.ActionEdit), msgs[0].Payload.(*model.MessageView).ActionType)
}

func TestEditRejectsOversizedContent(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	conv := e.conversation(t)
	sent, err := e.msgs.Send(ctx, e.alice, conv.ID, text("short"))
	require.NoError(t, err)
	chat := e.join(broadcast.ConversationGroup(conv.ID))

	_, err = e.msgs.Edit(ctx, e.alice, conv.ID, sent.ID, strings.Repeat("x", 50000))
	assert.ErrorIs(t, err, apperr.ErrContentTooLong)
	assert.Empty(t, chat.named(model.EventChatMessage))

	stored, err := e.store.GetMessage(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, "short", stored.Content)
}

func TestEditRejectsAudioAndForeignConversation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	conv := e.conversation(t)

	audio, err := e.msgs.Send(ctx, e.alice, conv.ID, SendRequest{
		MessageType:     model.MessageTypeAudio,
		AudioDataBase64: base64.StdEncoding.EncodeToString([]byte{1, 2, 3}),
	})
	require.NoError(t, err)
	_, err = e.msgs.Edit(ctx, e.alice, conv.ID, audio.ID, "words")
	assert.ErrorIs(t, err, apperr.ErrOnlyTextEditable)

	other, _, err := e.convs.GetOrCreate(ctx, e.alice.ID, e.carol.ID)
	require.NoError(t, err)
	txt, err := e.msgs.Send(ctx, e.alice, conv.ID, text("x"))
	require.NoError(t, err)
	_, err = e.msgs.Edit(ctx, e.alice, other.ID, txt.ID, "y")
	assert.ErrorIs(t, err, apperr.ErrMessageNotFound)
}

func TestDeleteBySenderOnly(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	conv := e.conversation(t)
	sent, err := e.msgs.Send(ctx, e.alice, conv.ID, text("secret"))
	require.NoError(t, err)
	chat := e.join(broadcast.ConversationGroup(conv.ID))

	assert.ErrorIs(t, e.msgs.Delete(ctx, e.bob, conv.ID, sent.ID), apperr.ErrDeleteForbidden)
	require.NoError(t, e.msgs.Delete(ctx, e.alice, conv.ID, sent.ID))

	_, err = e.store.GetMessage(ctx, sent.ID)
	assert.ErrorIs(t, err, apperr.ErrMessageNotFound)

	msgs := chat.named(model.EventChatMessage)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.DeleteFrame{ActionType: "delete", ID: sent.ID, SenderUsername: "alice"}, msgs[0].Payload)
}

func TestTyping(t *testing.T) {
	e := newEnv(t)
	conv := e.conversation(t)
	chat := e.join(broadcast.ConversationGroup(conv.ID))

	require.NoError(t, e.msgs.Typing(context.Background(), e.bob, conv.ID, true))
	require.NoError(t, e.msgs.Typing(context.Background(), e.bob, conv.ID, false))

	events := chat.named(model.EventTypingIndicator)
	require.Len(t, events, 2)
	assert.Equal(t, model.TypingFrame{ActionType: "typing_indicator", Username: "bob", IsTyping: true}, events[0].Payload)
	assert.False(t, events[1].Payload.(model.TypingFrame).IsTyping)
}

func TestMarkReadIsConditionalAndCancelsReminders(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	conv := e.conversation(t)
	m1, err := e.msgs.Send(ctx, e.alice, conv.ID, text("one"))
	require.NoError(t, err)
	m2, err := e.msgs.Send(ctx, e.alice, conv.ID, text("two"))
	require.NoError(t, err)
	chat := e.join(broadcast.ConversationGroup(conv.ID))

	// Alice is not the recipient, nothing changes.
	read, err := e.msgs.MarkRead(ctx, e.alice, conv.ID, []string{m1.ID})
	require.NoError(t, err)
	assert.Empty(t, read)

	read, err = e.msgs.MarkRead(ctx, e.bob, conv.ID, []string{m1.ID, m2.ID, m1.ID})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{m1.ID, m2.ID}, read)
	assert.ElementsMatch(t, []string{m1.ID, m2.ID}, e.notifier.read)
	assert.Len(t, chat.named(model.EventReadReceipt), 2)

	read, err = e.msgs.MarkRead(ctx, e.bob, conv.ID, []string{m1.ID})
	require.NoError(t, err)
	assert.Empty(t, read)
	assert.Len(t, chat.named(model.EventReadReceipt), 2)

	_, err = e.msgs.MarkRead(ctx, e.bob, conv.ID, nil)
	assert.ErrorIs(t, err, apperr.ErrReadFieldsMissing)
}

func TestMarkConversationRead(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	conv := e.conversation(t)
	for _, s := range []string{"a", "b", "c"} {
		_, err := e.msgs.Send(ctx, e.alice, conv.ID, text(s))
		require.NoError(t, err)
	}
	bobList := e.join(broadcast.UserGroup(e.bob.ID))

	read, err := e.msgs.MarkConversationRead(ctx, e.bob, conv.ID)
	require.NoError(t, err)
	assert.Len(t, read, 3)

	counts := bobList.named(model.EventNotificationCount)
	require.Len(t, counts, 1)
	assert.Zero(t, counts[0].Payload.(model.NotificationCountFrame).TotalUnreadCount)
}

func TestSoftDeleteAndAutoRestore(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	conv := e.conversation(t)
	_, err := e.msgs.Send(ctx, e.alice, conv.ID, text("before"))
	require.NoError(t, err)

	bobList := e.join(broadcast.UserGroup(e.bob.ID))
	require.NoError(t, e.convs.Delete(ctx, e.bob.ID, conv.ID))

	deletes := bobList.named(model.EventConversationDelete)
	require.Len(t, deletes, 1)
	assert.Equal(t, conv.ID, deletes[0].Payload.(model.ConversationDeleteFrame).ConversationID)

	list, err := e.convs.List(ctx, e.bob.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	counts, err := e.convs.UnreadCounts(ctx, e.bob.ID)
	require.NoError(t, err)
	assert.Zero(t, counts.TotalUnreadCount)

	time.Sleep(2 * time.Millisecond)
	after, err := e.msgs.Send(ctx, e.alice, conv.ID, text("after"))
	require.NoError(t, err)

	updates := bobList.named(model.EventConversationUpdate)
	require.NotEmpty(t, updates)
	restored := updates[len(updates)-1].Payload.(model.ConversationUpdateFrame)
	assert.True(t, restored.IsNew)
	assert.Equal(t, after.ID, restored.Conversation.LastMessage.ID)

	list, err = e.convs.List(ctx, e.bob.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].UnreadCount)

	stored, err := e.store.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	p, ok := stored.Participant(e.bob.ID)
	require.True(t, ok)
	assert.False(t, p.Deleted)
	assert.NotNil(t, p.DeletedAt)
}

func TestDeleteRequiresParticipant(t *testing.T) {
	e := newEnv(t)
	conv := e.conversation(t)
	assert.ErrorIs(t, e.convs.Delete(context.Background(), e.carol.ID, conv.ID), apperr.ErrNotParticipant)
}

func TestViewIncludesPresence(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	require.NoError(t, e.presence.Connect(ctx, e.bob.ID))

	view := e.conversation(t)
	require.Len(t, view.Participants, 2)
	for _, p := range view.Participants {
		if p.ID == e.bob.ID {
			assert.True(t, p.IsOnline)
			assert.NotNil(t, p.LastSeen)
		} else {
			assert.False(t, p.IsOnline)
		}
	}
}
