package gateway

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/user/dram/internal/state"
	"github.com/user/dram/internal/types"
)

type mockSender struct {
	mu       sync.Mutex
	requests []Request
	errs     []error
}

func (m *mockSender) Send(_ context.Context, req Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return err
	}
	return nil
}

func fastRetry() *RetryPolicy {
	return &RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1, MaxDelay: time.Millisecond}
}

func TestSendMessage(t *testing.T) {
	store := state.New()
	sender := &mockSender{}
	client := NewClient(store, sender, WithRetryPolicy(fastRetry()), WithClientLogger(discardLogger()))

	id, err := client.SendMessage(context.Background(), "  hello  ")
	if err != nil {
		t.Fatal(err)
	}
	if id == "" || len(sender.requests) != 1 || sender.requests[0].ID != id {
		t.Fatalf("unexpected requests %+v", sender.requests)
	}
	if sender.requests[0].Params["sessionKey"] != string(store.CurrentSessionID()) {
		t.Errorf("request should name the current session: %v", sender.requests[0].Params)
	}

	cur := store.Current()
	if len(cur.Messages) != 1 || cur.Messages[0].Role != types.RoleUser || cur.Messages[0].Content != "hello" {
		t.Errorf("unexpected messages %+v", cur.Messages)
	}
	if !cur.Indicator.Active {
		t.Error("indicator should be active while waiting")
	}
}

func TestSendMessageEmpty(t *testing.T) {
	store := state.New()
	client := NewClient(store, &mockSender{})
	if _, err := client.SendMessage(context.Background(), "   "); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("expected ErrEmptyMessage, got %v", err)
	}
	if len(store.Current().Messages) != 0 {
		t.Error("nothing should be appended")
	}
}

func TestSendMessageRetriesWithSameKey(t *testing.T) {
	store := state.New()
	sender := &mockSender{errs: []error{errors.New("connection reset"), nil}}
	client := NewClient(store, sender, WithRetryPolicy(fastRetry()), WithClientLogger(discardLogger()))

	if _, err := client.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}
	if len(sender.requests) != 2 {
		t.Fatalf("expected 2 attempts, got %d", len(sender.requests))
	}
	if sender.requests[0].Params["idempotencyKey"] != sender.requests[1].Params["idempotencyKey"] {
		t.Error("a retry must reuse the idempotency key")
	}
	if len(store.Current().Messages) != 1 {
		t.Error("user message should be appended once")
	}
}

func TestSendMessageFailureClearsIndicator(t *testing.T) {
	store := state.New()
	sender := &mockSender{errs: []error{errors.New("unauthorized")}}
	client := NewClient(store, sender, WithRetryPolicy(fastRetry()), WithClientLogger(discardLogger()))

	if _, err := client.SendMessage(context.Background(), "hi"); err == nil {
		t.Fatal("expected error")
	}
	if store.Current().Indicator.Active {
		t.Error("indicator should be cleared on failure")
	}
}

func TestSendMessageThroughDispatcher(t *testing.T) {
	store := state.New()
	d := NewDispatcher(0, nil, discardLogger())
	d.Start(context.Background())
	defer d.Stop()

	client := NewClient(store, &mockSender{}, WithDispatcher(d), WithClientLogger(discardLogger()))
	if _, err := client.SendMessage(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}
	if len(store.Current().Messages) != 1 {
		t.Error("expected message appended")
	}
}

func TestQueueVoiceResponse(t *testing.T) {
	store := state.New()
	sender := &mockSender{}
	client := NewClient(store, sender)

	var sink types.VoiceSink = client
	if err := sink.QueueVoiceResponse("Hello there."); err != nil {
		t.Fatal(err)
	}
	if len(sender.requests) != 1 || sender.requests[0].Method != MethodVoiceStream {
		t.Errorf("unexpected requests %+v", sender.requests)
	}
}

func TestRequestModels(t *testing.T) {
	sender := &mockSender{errs: []error{errors.New("broken pipe")}}
	client := NewClient(state.New(), sender)
	if err := client.RequestModels(context.Background()); err == nil {
		t.Error("expected error")
	}
	if sender.requests[0].Method != MethodModelsStatus {
		t.Errorf("unexpected method %s", sender.requests[0].Method)
	}
}

func TestConnect(t *testing.T) {
	store := state.New()
	sender := &mockSender{errs: []error{errors.New("connection reset")}}
	client := NewClient(store, sender, WithRetryPolicy(fastRetry()))

	if err := client.Connect(context.Background(), "tok"); err != nil {
		t.Fatal(err)
	}
	if len(sender.requests) != 2 || sender.requests[1].Method != MethodConnect {
		t.Errorf("expected one retried connect, got %+v", sender.requests)
	}
	if !store.Connected() {
		t.Error("store should be marked connected")
	}
}
