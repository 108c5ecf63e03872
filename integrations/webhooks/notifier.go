// Package webhooks posts informational events to an operator endpoint.
// Bodies are signed with HMAC-SHA256 so the receiver can authenticate them.
package webhooks

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"channeld/core/types"
)

const (
	defaultMaxAttempts = 5
	defaultMinBackoff  = 2 * time.Second
	defaultMaxBackoff  = 30 * time.Second
	defaultQueueSize   = 256
)

// ErrClosed is returned by Notify once the notifier is closed.
var ErrClosed = errors.New("webhook: notifier closed")

// ErrQueueFull is returned when deliveries back up. The engine is never
// blocked by a slow endpoint.
var ErrQueueFull = errors.New("webhook: delivery queue full")

// Payload is the webhook body.
type Payload struct {
	DeliveryID string          `json:"deliveryId"`
	Sequence   uint64          `json:"sequence"`
	Type       string          `json:"type"`
	Event      json.RawMessage `json:"event"`
	EmittedAt  time.Time       `json:"emittedAt"`
}

// Notifier delivers events with retry and exponential backoff. It implements
// dispatch.Notifier.
type Notifier struct {
	endpoint    string
	secret      []byte
	client      *http.Client
	logger      *slog.Logger
	filter      func(types.Event) bool
	maxAttempts int
	minBackoff  time.Duration
	maxBackoff  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan delivery
	wg     sync.WaitGroup
}

type delivery struct {
	eventType string
	body      []byte
}

// Option mutates notifier configuration.
type Option func(*Notifier)

// WithHTTPClient overrides the HTTP client used for deliveries.
func WithHTTPClient(client *http.Client) Option {
	return func(n *Notifier) {
		if client != nil {
			n.client = client
		}
	}
}

// WithRetryPolicy overrides the retry configuration.
func WithRetryPolicy(maxAttempts int, minBackoff, maxBackoff time.Duration) Option {
	return func(n *Notifier) {
		if maxAttempts > 0 {
			n.maxAttempts = maxAttempts
		}
		if minBackoff > 0 {
			n.minBackoff = minBackoff
		}
		if maxBackoff >= minBackoff && maxBackoff > 0 {
			n.maxBackoff = maxBackoff
		}
	}
}

// WithFilter restricts deliveries to the events keep accepts.
func WithFilter(keep func(types.Event) bool) Option {
	return func(n *Notifier) { n.filter = keep }
}

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// PaymentsOnly keeps payment outcomes and rejected inputs.
func PaymentsOnly(ev types.Event) bool {
	switch ev.(type) {
	case *types.EventPaymentSentSuccess, *types.EventPaymentSentFailed, *types.EventPaymentReceivedSuccess:
		return true
	case types.ViolationEvent:
		return true
	default:
		return false
	}
}

// New constructs a notifier and spawns the delivery worker.
func New(endpoint string, secret []byte, opts ...Option) (*Notifier, error) {
	endpoint = string(bytes.TrimSpace([]byte(endpoint)))
	if endpoint == "" {
		return nil, errors.New("webhook: endpoint required")
	}
	if len(secret) == 0 {
		return nil, errors.New("webhook: secret required")
	}
	ctx, cancel := context.WithCancel(context.Background())
	n := &Notifier{
		endpoint:    endpoint,
		secret:      append([]byte(nil), secret...),
		client:      &http.Client{Timeout: 15 * time.Second, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		logger:      slog.Default(),
		maxAttempts: defaultMaxAttempts,
		minBackoff:  defaultMinBackoff,
		maxBackoff:  defaultMaxBackoff,
		ctx:         ctx,
		cancel:      cancel,
		queue:       make(chan delivery, defaultQueueSize),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With(slog.String("component", "webhook"))
	n.wg.Add(1)
	go n.worker()
	return n, nil
}

// Close stops the notifier and waits for the inflight delivery to finish.
func (n *Notifier) Close() {
	if n == nil {
		return
	}
	n.cancel()
	n.wg.Wait()
}

// Notify queues ev for delivery without waiting for the endpoint.
func (n *Notifier) Notify(_ context.Context, sequence uint64, ev types.Event) error {
	if n == nil {
		return errors.New("webhook: notifier not initialised")
	}
	if n.filter != nil && !n.filter(ev) {
		return nil
	}
	raw, err := types.EncodeEvent(ev)
	if err != nil {
		return err
	}
	body, err := json.Marshal(Payload{
		DeliveryID: uuid.NewString(),
		Sequence:   sequence,
		Type:       ev.EventType(),
		Event:      raw,
		EmittedAt:  time.Now().UTC(),
	})
	if err != nil {
		return err
	}
	select {
	case <-n.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case n.queue <- delivery{eventType: ev.EventType(), body: body}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (n *Notifier) worker() {
	defer n.wg.Done()
	for {
		select {
		case job := <-n.queue:
			n.process(job)
		case <-n.ctx.Done():
			return
		}
	}
}

func (n *Notifier) process(job delivery) {
	attempt := 0
	backoff := n.minBackoff
	for {
		attempt++
		ctx, cancel := context.WithTimeout(n.ctx, n.client.Timeout)
		err := n.send(ctx, job)
		cancel()
		if err == nil {
			return
		}
		if attempt >= n.maxAttempts {
			n.logger.Warn("webhook delivery abandoned",
				slog.String("event", job.eventType),
				slog.Int("attempts", attempt),
				slog.Any("error", err))
			return
		}
		select {
		case <-time.After(backoff):
		case <-n.ctx.Done():
			return
		}
		backoff = nextBackoff(backoff, n.maxBackoff)
	}
}

func (n *Notifier) send(ctx context.Context, job delivery) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, bytes.NewReader(job.body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Channeld-Event", job.eventType)
	req.Header.Set("X-Channeld-Signature", Sign(n.secret, job.body))
	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return fmt.Errorf("webhook: delivery failed with status %d", resp.StatusCode)
}

// Sign returns the signature header value for body.
func Sign(secret, body []byte) string {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

func nextBackoff(current, max time.Duration) time.Duration {
	next := current * 2
	if next > max {
		return max
	}
	if next < current {
		return max
	}
	return next
}
