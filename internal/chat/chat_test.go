package chat

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ffusco/chatline/internal/bus"
	"github.com/ffusco/chatline/internal/channel"
	"github.com/ffusco/chatline/internal/message"
	"github.com/ffusco/chatline/internal/transport"
	"github.com/ffusco/chatline/internal/typing"
)

type fakeAPI struct {
	conn *transport.Memory

	mu             sync.Mutex
	history        []message.Message
	sendErr        error
	sendCalls      int
	stopBeforeSend bool
}

func (f *fakeAPI) ListMessages(ctx context.Context, conversationID string) ([]message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]message.Message, len(f.history))
	copy(out, f.history)
	return out, nil
}

func (f *fakeAPI) MarkMessageRead(ctx context.Context, messageID string) error {
	return nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, conversationID, content, recipientUserID string) (message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sendCalls++
	if f.sendErr != nil {
		return message.Message{}, f.sendErr
	}
	// Record whether the typing stop signal hit the wire first.
	for _, sent := range f.conn.SentEvents() {
		if sent.Event != transport.EventTyping {
			continue
		}
		var sig typing.Signal
		if json.Unmarshal(sent.Data, &sig) == nil && !sig.IsTyping {
			f.stopBeforeSend = true
		}
	}
	return message.Message{
		ID:             "srv-1",
		ConversationID: conversationID,
		SenderID:       "u1",
		Content:        content,
		CreatedAt:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}, nil
}

func openChat(t *testing.T, api *fakeAPI) (*Chat, *transport.Memory) {
	t.Helper()
	if api.conn == nil {
		api.conn = transport.NewMemory()
	}
	c := New(api.conn, api, nil, bus.New(), zap.NewNop(), "c1", "u1")
	if err := c.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(c.Close)
	return c, api.conn
}

func TestOpenSubscribesAndLoadsHistory(t *testing.T) {
	api := &fakeAPI{
		history: []message.Message{
			{ID: "m1", ConversationID: "c1", SenderID: "u2", Content: "hi"},
		},
	}
	c, _ := openChat(t, api)

	if c.State() != channel.Subscribed {
		t.Errorf("State() = %s, want %s", c.State(), channel.Subscribed)
	}
	if msgs := c.Messages(); len(msgs) != 1 || msgs[0].ID != "m1" {
		t.Errorf("history not loaded: %+v", msgs)
	}
}

func TestTypingStopPrecedesSend(t *testing.T) {
	api := &fakeAPI{}
	c, _ := openChat(t, api)

	c.InputChanged("hello there")
	if _, err := c.SendMessage(context.Background(), "hello there", "u2"); err != nil {
		t.Fatal(err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if !api.stopBeforeSend {
		t.Error("typing stop signal was not on the wire before the send request")
	}
}

func TestSendAppendsOptimistically(t *testing.T) {
	api := &fakeAPI{}
	c, conn := openChat(t, api)

	sent, err := c.SendMessage(context.Background(), "hello", "u2")
	if err != nil {
		t.Fatal(err)
	}
	if msgs := c.Messages(); len(msgs) != 1 || msgs[0].ID != sent.ID {
		t.Fatalf("sent message missing from timeline: %+v", msgs)
	}

	// The channel echo of the same message must not duplicate.
	conn.Deliver(channel.ConversationChannel("c1"), transport.EventNewMessage,
		map[string]any{"_id": "srv-1", "senderId": "u1", "content": "hello"})
	if msgs := c.Messages(); len(msgs) != 1 {
		t.Errorf("echo duplicated the message: %+v", msgs)
	}
}

func TestSendErrorPropagates(t *testing.T) {
	api := &fakeAPI{sendErr: errors.New("upstream 500")}
	c, _ := openChat(t, api)

	if _, err := c.SendMessage(context.Background(), "hello", "u2"); err == nil {
		t.Fatal("want send error")
	}
	if msgs := c.Messages(); len(msgs) != 0 {
		t.Errorf("failed send must not land in the timeline: %+v", msgs)
	}
}

func TestInboundEventReachesTimeline(t *testing.T) {
	api := &fakeAPI{}
	c, conn := openChat(t, api)

	conn.Deliver(channel.ConversationChannel("c1"), transport.EventNewMessage,
		map[string]any{"_id": "m7", "senderId": "u2", "content": "ping", "createdAt": "2025-06-01T12:00:01Z"})

	if msgs := c.Messages(); len(msgs) != 1 || msgs[0].Content != "ping" {
		t.Errorf("inbound event missing: %+v", msgs)
	}
}

func TestRemoteTypingViaChannel(t *testing.T) {
	api := &fakeAPI{}
	c, conn := openChat(t, api)

	conn.Deliver(channel.ConversationChannel("c1"), transport.EventTyping,
		typing.Signal{UserID: "u2", IsTyping: true})

	users := c.TypingUsers()
	if len(users) != 1 || users[0] != "u2" {
		t.Errorf("TypingUsers() = %v, want [u2]", users)
	}
}

func TestSendTypingRawSignal(t *testing.T) {
	api := &fakeAPI{}
	c, conn := openChat(t, api)

	if err := c.SendTyping(true); err != nil {
		t.Fatal(err)
	}

	sent := conn.SentEvents()
	if len(sent) != 1 || sent[0].Event != transport.EventTyping {
		t.Fatalf("sent = %+v, want one typing event", sent)
	}
	var sig typing.Signal
	if err := json.Unmarshal(sent[0].Data, &sig); err != nil {
		t.Fatal(err)
	}
	if sig.UserID != "u1" || !sig.IsTyping {
		t.Errorf("signal = %+v", sig)
	}
}

func TestClearEmptiesTimeline(t *testing.T) {
	api := &fakeAPI{
		history: []message.Message{{ID: "m1", ConversationID: "c1"}},
	}
	c, conn := openChat(t, api)

	c.Clear()
	if msgs := c.Messages(); len(msgs) != 0 {
		t.Fatalf("timeline not cleared: %+v", msgs)
	}

	// The channel stays live; new events repopulate.
	conn.Deliver(channel.ConversationChannel("c1"), transport.EventNewMessage,
		map[string]any{"_id": "m2", "senderId": "u2", "content": "back"})
	if msgs := c.Messages(); len(msgs) != 1 {
		t.Errorf("live event after clear missing: %+v", msgs)
	}
}

func TestServiceReturnsSingleInstance(t *testing.T) {
	api := &fakeAPI{conn: transport.NewMemory()}
	svc := NewService(api.conn, api, nil, bus.New(), zap.NewNop(), "u1")
	t.Cleanup(svc.CloseAll)

	first, err := svc.Open(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Open(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if first != second {
		t.Error("Open returned a second instance for the same conversation")
	}
	if n := api.conn.SentCount("conversation:c1"); n != 0 {
		t.Errorf("unexpected client events during open: %d", n)
	}
}

func TestServiceCloseAllowsReopen(t *testing.T) {
	api := &fakeAPI{conn: transport.NewMemory()}
	svc := NewService(api.conn, api, nil, bus.New(), zap.NewNop(), "u1")
	t.Cleanup(svc.CloseAll)

	first, err := svc.Open(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	svc.Close("c1")
	if first.State() != channel.Unsubscribed {
		t.Errorf("closed chat state = %s, want %s", first.State(), channel.Unsubscribed)
	}

	second, err := svc.Open(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Error("reopen returned the torn-down instance")
	}
	if second.State() != channel.Subscribed {
		t.Errorf("reopened chat state = %s, want %s", second.State(), channel.Subscribed)
	}
}
