// Package dispatch hands the events of logged state changes to the node's
// collaborators: contract calls to the chain submitter, protocol messages to
// the transport after signing, everything else to the notifier.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"channeld/core/types"
	"channeld/crypto"
	"channeld/observability"
	"channeld/observability/logging"
)

const (
	collaboratorChain     = "chain"
	collaboratorTransport = "transport"
	collaboratorNotifier  = "notifier"

	defaultChainQueueSize = 256
)

var (
	// ErrClosed is reported for contract calls handed over after Close.
	ErrClosed = errors.New("dispatch: closed")
	// ErrChainQueueFull is reported when the chain worker falls too far behind.
	ErrChainQueueFull = errors.New("dispatch: chain queue full")
)

// ChainSubmitter sends contract transactions. Confirmations come back as
// ContractReceive state changes.
type ChainSubmitter interface {
	SubmitTransaction(ctx context.Context, tx types.ContractSendEvent) error
}

// Transport delivers signed messages to peers. The peer's Processed or
// Delivered acknowledgement comes back as a state change.
type Transport interface {
	SendMessage(ctx context.Context, msg SignedMessage) error
}

// Notifier receives informational and violation events.
type Notifier interface {
	Notify(ctx context.Context, sequence uint64, ev types.Event) error
}

// Dispatcher routes events to the collaborators. It implements core.EventSink.
// Contract calls are queued for a background worker so that throttling and
// slow chain RPCs never hold up the engine. Handoff failures are logged and
// counted; the events stay in the pending queues of the state and are handed
// over again after the next recovery.
type Dispatcher struct {
	signer    crypto.Signer
	chain     ChainSubmitter
	transport Transport
	notifier  Notifier
	limiter   *rate.Limiter
	logger    *slog.Logger
	queueSize int

	ctx    context.Context
	cancel context.CancelFunc
	queue  chan chainJob
	wg     sync.WaitGroup
	once   sync.Once
}

type chainJob struct {
	sequence uint64
	tx       types.ContractSendEvent
}

// Option customises a Dispatcher.
type Option func(*Dispatcher)

// WithChainSubmitter sets the contract transaction collaborator.
func WithChainSubmitter(chain ChainSubmitter) Option {
	return func(d *Dispatcher) {
		if chain != nil {
			d.chain = chain
		}
	}
}

// WithTransport sets the messaging collaborator.
func WithTransport(transport Transport) Option {
	return func(d *Dispatcher) {
		if transport != nil {
			d.transport = transport
		}
	}
}

// WithNotifier sets the collaborator receiving informational events.
func WithNotifier(notifier Notifier) Option {
	return func(d *Dispatcher) {
		if notifier != nil {
			d.notifier = notifier
		}
	}
}

// WithChainRate caps contract submissions per second. A non-positive rate
// removes the cap.
func WithChainRate(perSecond float64, burst int) Option {
	return func(d *Dispatcher) {
		if perSecond <= 0 {
			d.limiter = rate.NewLimiter(rate.Inf, 0)
			return
		}
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithChainQueueSize bounds the contract calls waiting for the chain worker.
func WithChainQueueSize(size int) Option {
	return func(d *Dispatcher) {
		if size > 0 {
			d.queueSize = size
		}
	}
}

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New builds a dispatcher signing messages with signer and spawns the chain
// worker. Collaborators that are not configured only log what they receive.
func New(signer crypto.Signer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		signer:    signer,
		limiter:   rate.NewLimiter(rate.Inf, 0),
		logger:    slog.Default(),
		queueSize: defaultChainQueueSize,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With(slog.String("component", "dispatch"))
	if d.chain == nil {
		d.chain = logChain{logger: d.logger}
	}
	if d.transport == nil {
		d.transport = logTransport{logger: d.logger}
	}
	if d.notifier == nil {
		d.notifier = logNotifier{logger: d.logger}
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.queue = make(chan chainJob, d.queueSize)
	d.wg.Add(1)
	go d.chainWorker()
	return d
}

// Close stops the chain worker and waits for the inflight submission.
// Contract calls still queued are dropped; they remain pending in the state.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		d.cancel()
		d.wg.Wait()
	})
}

// Handle hands every event to its collaborator in order. Contract calls are
// only queued; messages and notifications are handed over before it returns.
func (d *Dispatcher) Handle(ctx context.Context, sequence uint64, events []types.Event) {
	for _, ev := range events {
		if ctx.Err() != nil {
			d.logger.Warn("dispatch interrupted", slog.Uint64("sequence", sequence), slog.Any("error", ctx.Err()))
			return
		}
		switch e := ev.(type) {
		case types.ContractSendEvent:
			d.enqueue(sequence, e)
		case types.SendMessageEvent:
			d.send(ctx, sequence, e)
		default:
			d.notify(ctx, sequence, ev)
		}
	}
}

func (d *Dispatcher) enqueue(sequence uint64, tx types.ContractSendEvent) {
	select {
	case <-d.ctx.Done():
		d.fail(collaboratorChain, sequence, tx, ErrClosed)
		return
	default:
	}
	select {
	case d.queue <- chainJob{sequence: sequence, tx: tx}:
	default:
		d.fail(collaboratorChain, sequence, tx, ErrChainQueueFull)
	}
}

func (d *Dispatcher) chainWorker() {
	defer d.wg.Done()
	for {
		select {
		case job := <-d.queue:
			d.submit(job)
		case <-d.ctx.Done():
			return
		}
	}
}

func (d *Dispatcher) submit(job chainJob) {
	metrics := observability.Dispatch()
	if !d.limiter.Allow() {
		metrics.RecordThrottle(collaboratorChain)
		if err := d.limiter.Wait(d.ctx); err != nil {
			d.fail(collaboratorChain, job.sequence, job.tx, err)
			return
		}
	}
	if err := d.chain.SubmitTransaction(d.ctx, job.tx); err != nil {
		d.fail(collaboratorChain, job.sequence, job.tx, err)
		return
	}
	metrics.RecordHandoff(collaboratorChain, job.tx.EventType())
}

func (d *Dispatcher) send(ctx context.Context, sequence uint64, ev types.SendMessageEvent) {
	msg, err := Sign(d.signer, ev)
	if err != nil {
		d.fail(collaboratorTransport, sequence, ev, err)
		return
	}
	if err := d.transport.SendMessage(ctx, msg); err != nil {
		d.fail(collaboratorTransport, sequence, ev, err)
		return
	}
	observability.Dispatch().RecordHandoff(collaboratorTransport, ev.EventType())
}

func (d *Dispatcher) notify(ctx context.Context, sequence uint64, ev types.Event) {
	if err := d.notifier.Notify(ctx, sequence, ev); err != nil {
		d.fail(collaboratorNotifier, sequence, ev, err)
		return
	}
	observability.Dispatch().RecordHandoff(collaboratorNotifier, ev.EventType())
}

func (d *Dispatcher) fail(collaborator string, sequence uint64, ev types.Event, err error) {
	observability.Dispatch().RecordFailure(collaborator)
	d.logger.Error("event handoff failed",
		slog.String("collaborator", collaborator),
		slog.Uint64("sequence", sequence),
		slog.String("event", ev.EventType()),
		slog.Any("error", err))
}

type logChain struct{ logger *slog.Logger }

func (c logChain) SubmitTransaction(_ context.Context, tx types.ContractSendEvent) error {
	c.logger.Info("contract transaction", slog.String("event", tx.EventType()))
	return nil
}

type logTransport struct{ logger *slog.Logger }

func (t logTransport) SendMessage(_ context.Context, msg SignedMessage) error {
	attrs := []any{
		slog.String("event", msg.Message.EventType()),
		slog.String("recipient", msg.Recipient().Hex()),
		slog.Uint64("message_id", uint64(msg.Message.MessageIdentifier())),
	}
	if reveal, ok := msg.Message.(*types.SendSecretReveal); ok {
		attrs = append(attrs, logging.MaskField("secrethash", reveal.Reveal.Secret.Hash().Hex()))
	}
	t.logger.Info("protocol message", attrs...)
	return nil
}

// Notifiers fans each event out to every notifier in order.
type Notifiers []Notifier

func (ns Notifiers) Notify(ctx context.Context, sequence uint64, ev types.Event) error {
	var errs []error
	for _, n := range ns {
		if err := n.Notify(ctx, sequence, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NewLogNotifier returns a notifier that only logs. Violations are logged
// at warn level.
func NewLogNotifier(logger *slog.Logger) Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return logNotifier{logger: logger}
}

type logNotifier struct{ logger *slog.Logger }

func (n logNotifier) Notify(_ context.Context, sequence uint64, ev types.Event) error {
	attrs := []any{slog.Uint64("sequence", sequence), slog.String("event", ev.EventType())}
	if v, ok := ev.(types.ViolationEvent); ok {
		attrs = append(attrs, slog.String("code", v.ViolationCode()), slog.String("reason", v.ViolationReason()))
		n.logger.Warn("input rejected", attrs...)
		return nil
	}
	n.logger.Info("event", attrs...)
	return nil
}
