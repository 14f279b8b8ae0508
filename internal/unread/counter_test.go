package unread

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ffusco/chatline/internal/bus"
	"github.com/ffusco/chatline/internal/message"
	"github.com/ffusco/chatline/internal/rest"
)

type fakeAPI struct {
	mu         sync.Mutex
	counts     rest.UnreadCounts
	messages   []message.Message
	fetchCalls int32
	markedIDs  []string
	fetchGate  chan struct{}
	markErr    error
	markErrFor string
}

func (f *fakeAPI) FetchUnreadCounts(ctx context.Context) (rest.UnreadCounts, error) {
	atomic.AddInt32(&f.fetchCalls, 1)
	if f.fetchGate != nil {
		<-f.fetchGate
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.counts, nil
}

func (f *fakeAPI) ListMessages(ctx context.Context, conversationID string) ([]message.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.messages, nil
}

func (f *fakeAPI) MarkMessageRead(ctx context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErrFor == messageID {
		return f.markErr
	}
	f.markedIDs = append(f.markedIDs, messageID)
	return nil
}

func (f *fakeAPI) fetches() int {
	return int(atomic.LoadInt32(&f.fetchCalls))
}

func (f *fakeAPI) marked() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.markedIDs))
	copy(out, f.markedIDs)
	return out
}

func newCounter(t *testing.T, api *fakeAPI) *Counter {
	t.Helper()
	c := NewCounter(api, bus.New(), "u1", zap.NewNop())
	t.Cleanup(c.Close)
	return c
}

func TestFetchServesFromCacheWithinTTL(t *testing.T) {
	api := &fakeAPI{counts: rest.UnreadCounts{Total: 7}}
	c := newCounter(t, api)

	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return clock }

	counts, err := c.FetchUnreadCount(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if counts.Total != 7 {
		t.Errorf("Total = %d, want 7", counts.Total)
	}

	clock = clock.Add(3 * time.Second)
	if _, err := c.FetchUnreadCount(context.Background()); err != nil {
		t.Fatal(err)
	}
	if api.fetches() != 1 {
		t.Errorf("fetch within TTL hit the API, calls = %d", api.fetches())
	}

	clock = clock.Add(3 * time.Second)
	if _, err := c.FetchUnreadCount(context.Background()); err != nil {
		t.Fatal(err)
	}
	if api.fetches() != 2 {
		t.Errorf("fetch past TTL should refetch, calls = %d", api.fetches())
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	api := &fakeAPI{counts: rest.UnreadCounts{Total: 1}}
	c := newCounter(t, api)

	if _, err := c.FetchUnreadCount(context.Background()); err != nil {
		t.Fatal(err)
	}
	c.Invalidate()
	if _, err := c.FetchUnreadCount(context.Background()); err != nil {
		t.Fatal(err)
	}
	if api.fetches() != 2 {
		t.Errorf("calls = %d, want 2 after invalidation", api.fetches())
	}
}

func TestConcurrentFetchesShareOneCall(t *testing.T) {
	api := &fakeAPI{counts: rest.UnreadCounts{Total: 3}, fetchGate: make(chan struct{})}
	c := newCounter(t, api)

	var wg sync.WaitGroup
	results := make([]rest.UnreadCounts, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			counts, err := c.FetchUnreadCount(context.Background())
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = counts
		}(i)
	}

	// Let both goroutines reach the in-flight call, then release it.
	time.Sleep(50 * time.Millisecond)
	close(api.fetchGate)
	wg.Wait()

	if api.fetches() != 1 {
		t.Errorf("calls = %d, want 1 (single flight)", api.fetches())
	}
	if results[0].Total != 3 || results[1].Total != 3 {
		t.Errorf("both callers should see the shared result: %+v", results)
	}
}

func TestMarkMessagesAsReadFiltersAndInvalidatesOnce(t *testing.T) {
	api := &fakeAPI{
		messages: []message.Message{
			{ID: "m1", SenderID: "u2", Read: false},
			{ID: "m2", SenderID: "u2", Read: false},
			{ID: "m3", SenderID: "u2", Read: true},
			{ID: "m4", SenderID: "u1", Read: false},
			{ID: "m5", SenderID: "u3", Read: false},
		},
	}
	c := newCounter(t, api)

	if _, err := c.FetchUnreadCount(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := c.MarkMessagesAsRead(context.Background(), "c1"); err != nil {
		t.Fatal(err)
	}

	marked := api.marked()
	if len(marked) != 3 {
		t.Fatalf("marked %v, want m1 m2 m5 only", marked)
	}
	for _, id := range marked {
		if id == "m3" || id == "m4" {
			t.Errorf("marked %s which is read or own", id)
		}
	}

	// Cache was invalidated exactly once, so one more fetch call.
	if _, err := c.FetchUnreadCount(context.Background()); err != nil {
		t.Fatal(err)
	}
	if api.fetches() != 2 {
		t.Errorf("calls = %d, want 2", api.fetches())
	}
}

func TestMarkFailureDoesNotAbortOthers(t *testing.T) {
	api := &fakeAPI{
		messages: []message.Message{
			{ID: "m1", SenderID: "u2"},
			{ID: "m2", SenderID: "u2"},
			{ID: "m3", SenderID: "u2"},
		},
		markErr:    &rest.APIError{Status: 500},
		markErrFor: "m2",
	}
	c := newCounter(t, api)

	if err := c.MarkMessagesAsRead(context.Background(), "c1"); err != nil {
		t.Fatalf("one failed mark must not fail the batch: %v", err)
	}
	if marked := api.marked(); len(marked) != 2 {
		t.Errorf("marked %v, want the two successful ids", marked)
	}
}

func TestRequestRefreshDebounces(t *testing.T) {
	api := &fakeAPI{counts: rest.UnreadCounts{Total: 2}}
	b := bus.New()
	c := NewCounter(api, b, "u1", zap.NewNop())
	t.Cleanup(c.Close)
	c.debounce = 30 * time.Millisecond

	events, unsub := b.Subscribe(bus.KindUnreadUpdated, 4)
	defer unsub()

	c.RequestRefresh()
	c.RequestRefresh()
	c.RequestRefresh()

	select {
	case <-events:
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for unread.updated event")
	}
	time.Sleep(60 * time.Millisecond)

	if api.fetches() != 1 {
		t.Errorf("calls = %d, want 1 debounced refresh", api.fetches())
	}
	select {
	case <-events:
		t.Error("more than one unread.updated published")
	default:
	}
}

func TestRefreshNowPublishesCounts(t *testing.T) {
	api := &fakeAPI{counts: rest.UnreadCounts{Total: 9}}
	b := bus.New()
	c := NewCounter(api, b, "u1", zap.NewNop())
	t.Cleanup(c.Close)

	events, unsub := b.Subscribe(bus.KindUnreadUpdated, 1)
	defer unsub()

	if err := c.RefreshNow(context.Background()); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-events:
		counts, ok := evt.Payload.(rest.UnreadCounts)
		if !ok || counts.Total != 9 {
			t.Errorf("unexpected payload %+v", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for unread.updated event")
	}
}
