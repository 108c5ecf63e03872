package webhooks

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"channeld/core/types"
)

func TestNotifierSignsPayload(t *testing.T) {
	secret := []byte("secret")
	var (
		mu        sync.Mutex
		signature string
		body      []byte
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		_ = r.Body.Close()
		mu.Lock()
		signature = r.Header.Get("X-Channeld-Signature")
		body = data
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	notifier, err := New(server.URL, secret)
	if err != nil {
		t.Fatalf("notifier: %v", err)
	}
	defer notifier.Close()

	if err := notifier.Notify(context.Background(), 4, &types.EventPaymentSentFailed{Reason: "no route"}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	received := func() bool {
		mu.Lock()
		defer mu.Unlock()
		return signature != ""
	}
	waitFor(received, time.Second)
	if !received() {
		t.Fatalf("expected delivery")
	}
	mu.Lock()
	defer mu.Unlock()
	if signature != Sign(secret, body) {
		t.Fatalf("signature %s does not match body", signature)
	}
	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Sequence != 4 || payload.Type != "EventPaymentSentFailed" || payload.DeliveryID == "" {
		t.Fatalf("unexpected payload %+v", payload)
	}
}

func TestNotifierRetries(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&attempts, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	notifier, err := New(server.URL, []byte("secret"), WithRetryPolicy(5, time.Millisecond*10, time.Millisecond*20))
	if err != nil {
		t.Fatalf("notifier: %v", err)
	}
	defer notifier.Close()
	if err := notifier.Notify(context.Background(), 1, &types.EventPaymentSentSuccess{}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 3 }, time.Second)
	if atomic.LoadInt32(&attempts) < 3 {
		t.Fatalf("expected retries, got %d", attempts)
	}
}

func TestNotifierFilter(t *testing.T) {
	attempts := int32(0)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&attempts, 1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()
	notifier, err := New(server.URL, []byte("secret"), WithFilter(PaymentsOnly))
	if err != nil {
		t.Fatalf("notifier: %v", err)
	}
	defer notifier.Close()

	if err := notifier.Notify(context.Background(), 1, &types.EventUnlockSuccess{}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if err := notifier.Notify(context.Background(), 2, &types.ErrorInvalidReceivedUnlock{}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	waitFor(func() bool { return atomic.LoadInt32(&attempts) >= 1 }, time.Second)
	time.Sleep(50 * time.Millisecond)
	if got := atomic.LoadInt32(&attempts); got != 1 {
		t.Fatalf("expected only the violation to be delivered, got %d deliveries", got)
	}
}

func TestNewRequiresEndpointAndSecret(t *testing.T) {
	if _, err := New(" ", []byte("secret")); err == nil {
		t.Fatalf("expected endpoint error")
	}
	if _, err := New("http://localhost", nil); err == nil {
		t.Fatalf("expected secret error")
	}
}

func TestNotifyAfterClose(t *testing.T) {
	notifier, err := New("http://127.0.0.1:1", []byte("secret"))
	if err != nil {
		t.Fatalf("notifier: %v", err)
	}
	notifier.Close()
	if err := notifier.Notify(context.Background(), 1, &types.EventPaymentSentSuccess{}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func waitFor(cond func() bool, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond * 10)
	}
}
