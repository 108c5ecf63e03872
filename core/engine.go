// Package core serializes state changes from every producer into one ordered
// history. Producers call Submit concurrently; a single Run loop drains the
// bounded ingestion queue and applies one state change at a time inside the
// single-writer section: reduce on a copy of the state, append the record
// durably, then publish the copy. Events reach the collaborators only after
// their record is durable.
package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"channeld/core/machine"
	"channeld/core/types"
	"channeld/observability"
	"channeld/storage"
)

// EventSink receives the events of every durably logged state change in log
// order. It runs on the engine loop and must not block for long.
type EventSink interface {
	Handle(ctx context.Context, sequence uint64, events []types.Event)
}

// Config tunes the queue and the snapshot policy.
type Config struct {
	// QueueCapacity bounds the ingestion queue. Producers block when full.
	QueueCapacity int
	// SnapshotEvery takes a snapshot after this many records. Zero disables
	// the count trigger.
	SnapshotEvery uint64
	// SnapshotInterval takes a snapshot once this much time passed since the
	// last one and new records exist. Zero disables the time trigger.
	SnapshotInterval time.Duration
	// SnapshotRetain is the number of snapshots kept after pruning.
	SnapshotRetain int
	// Version is stored in the run record written by Recover.
	Version string
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		QueueCapacity:    1024,
		SnapshotEvery:    types.SnapshotStateChangeCount,
		SnapshotInterval: 10 * time.Minute,
		SnapshotRetain:   3,
		Version:          "dev",
	}
}

// Result describes one applied state change.
type Result struct {
	Sequence uint64
	Events   []types.Event
}

type outcome struct {
	result Result
	err    error
}

type submission struct {
	ctx  context.Context
	sc   types.StateChange
	done chan outcome
}

// Engine owns the chain state. Nothing else reads or writes it.
type Engine struct {
	cfg     Config
	store   storage.StateStore
	sink    EventSink
	logger  *slog.Logger
	metrics *observability.EngineMetrics
	tracer  trace.Tracer
	now     func() time.Time

	queue   chan *submission
	stopped chan struct{}
	stop    sync.Once

	// mu is the single-writer section.
	mu         sync.Mutex
	state      *types.ChainState
	sequence   uint64
	recovered  bool
	halted     error
	lastSnap   uint64
	lastSnapAt time.Time
}

// Option customises an Engine.
type Option func(*Engine)

// WithSink sets the collaborator receiving logged events.
func WithSink(sink EventSink) Option {
	return func(e *Engine) { e.sink = sink }
}

// WithLogger overrides the default slog logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics overrides the Prometheus metrics registry.
func WithMetrics(m *observability.EngineMetrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithClock sets the function used for record timestamps and the snapshot
// interval.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) { e.now = clock }
}

// New builds an engine over store. Recover must be called before Run.
func New(store storage.StateStore, cfg Config, opts ...Option) *Engine {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultConfig().QueueCapacity
	}
	if cfg.SnapshotRetain <= 0 {
		cfg.SnapshotRetain = DefaultConfig().SnapshotRetain
	}
	e := &Engine{
		cfg:     cfg,
		store:   store,
		logger:  slog.Default(),
		metrics: observability.Engine(),
		tracer:  otel.Tracer("channeld/core"),
		now:     time.Now,
		queue:   make(chan *submission, cfg.QueueCapacity),
		stopped: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(slog.String("component", "engine"))
	return e
}

// Submit enqueues sc and waits for it to be applied. It blocks while the
// queue is full. Once enqueued, a state change is applied even if ctx is
// cancelled afterwards; the caller then only loses the result.
func (e *Engine) Submit(ctx context.Context, sc types.StateChange) (Result, error) {
	if sc == nil {
		return Result{}, errors.New("core: nil state change")
	}
	if err := e.haltErr(); err != nil {
		return Result{}, err
	}
	sub := &submission{ctx: ctx, sc: sc, done: make(chan outcome, 1)}
	select {
	case e.queue <- sub:
		e.metrics.SetQueueDepth(len(e.queue))
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-e.stopped:
		return Result{}, ErrEngineStopped
	}
	select {
	case out := <-sub.done:
		return out.result, out.err
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-e.stopped:
		select {
		case out := <-sub.done:
			return out.result, out.err
		default:
			return Result{}, ErrEngineStopped
		}
	}
}

// Run drains the ingestion queue until ctx is cancelled or the engine halts.
func (e *Engine) Run(ctx context.Context) error {
	e.mu.Lock()
	recovered := e.recovered
	e.mu.Unlock()
	if !recovered {
		return ErrNotRecovered
	}
	defer e.shutdown()

	var tick <-chan time.Time
	if e.cfg.SnapshotInterval > 0 {
		ticker := time.NewTicker(e.cfg.SnapshotInterval)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sub := <-e.queue:
			e.metrics.SetQueueDepth(len(e.queue))
			result, err := e.apply(sub.ctx, sub.sc)
			if err == nil && e.sink != nil && len(result.Events) > 0 {
				e.sink.Handle(ctx, result.Sequence, result.Events)
			}
			sub.done <- outcome{result: result, err: err}
			if errors.Is(err, machine.ErrInvariantViolation) {
				return err
			}
		case <-tick:
			e.mu.Lock()
			e.maybeSnapshot()
			e.mu.Unlock()
		}
	}
}

// shutdown refuses new submissions and fails the ones still queued.
func (e *Engine) shutdown() {
	e.stop.Do(func() { close(e.stopped) })
	for {
		select {
		case sub := <-e.queue:
			err := e.haltErr()
			if err == nil {
				err = ErrEngineStopped
			}
			sub.done <- outcome{err: err}
		default:
			return
		}
	}
}

func (e *Engine) haltErr() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.halted != nil {
		return fmt.Errorf("%w: %v", ErrEngineHalted, e.halted)
	}
	return nil
}

// apply is the single-writer section for one state change.
func (e *Engine) apply(ctx context.Context, sc types.StateChange) (Result, error) {
	start := e.now()
	tag := sc.StateChangeType()
	_, span := e.tracer.Start(ctx, "engine.apply", trace.WithAttributes(attribute.String("state_change", tag)))
	defer span.End()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.halted != nil {
		err := fmt.Errorf("%w: %v", ErrEngineHalted, e.halted)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	next, events, err := machine.Apply(e.state, sc)
	if err != nil {
		e.halted = err
		e.metrics.SetHalted()
		e.logger.Error("invariant violation, engine halted",
			slog.String("state_change", tag),
			slog.Uint64("sequence", e.sequence),
			slog.Any("error", err))
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Result{}, err
	}

	seq := e.sequence + 1
	next.Sequence = seq
	appendStart := e.now()
	err = e.store.Append(storage.LogRecord{Sequence: seq, Timestamp: start, StateChange: sc, Events: events})
	e.metrics.ObserveAppend(e.now().Sub(appendStart))
	if err != nil {
		serr := &StorageError{Op: "append", Sequence: seq, Err: err}
		e.metrics.RecordStorageError("append")
		e.logger.Error("log append failed, state change not applied",
			slog.String("state_change", tag),
			slog.Uint64("sequence", seq),
			slog.Any("error", err))
		span.RecordError(serr)
		span.SetStatus(codes.Error, serr.Error())
		return Result{}, serr
	}

	e.state = next
	e.sequence = seq
	e.metrics.RecordApplied(tag, seq, uint64(next.BlockNumber), e.now().Sub(start))
	for _, ev := range events {
		if v, ok := ev.(types.ViolationEvent); ok {
			e.metrics.RecordViolation(v.ViolationCode())
			e.logger.Debug("input rejected",
				slog.String("state_change", tag),
				slog.Uint64("sequence", seq),
				slog.String("event", ev.EventType()),
				slog.String("code", v.ViolationCode()),
				slog.String("reason", v.ViolationReason()))
		}
	}
	span.SetAttributes(attribute.Int64("sequence", int64(seq)), attribute.Int("events", len(events)))
	e.maybeSnapshot()
	return Result{Sequence: seq, Events: events}, nil
}

// maybeSnapshot writes a snapshot when the count or time trigger fired. The
// caller holds mu. A failed snapshot leaves the log intact and is retried
// on the next trigger.
func (e *Engine) maybeSnapshot() {
	if e.state == nil || e.sequence == e.lastSnap {
		return
	}
	byCount := e.cfg.SnapshotEvery > 0 && e.sequence-e.lastSnap >= e.cfg.SnapshotEvery
	byTime := e.cfg.SnapshotInterval > 0 && e.now().Sub(e.lastSnapAt) >= e.cfg.SnapshotInterval
	if !byCount && !byTime {
		return
	}
	now := e.now()
	err := e.store.SaveSnapshot(storage.Snapshot{Sequence: e.sequence, Timestamp: now, State: e.state})
	e.metrics.RecordSnapshot(err)
	if err != nil {
		e.metrics.RecordStorageError("snapshot")
		e.logger.Error("snapshot failed", slog.Uint64("sequence", e.sequence), slog.Any("error", err))
		return
	}
	e.lastSnap = e.sequence
	e.lastSnapAt = now
	if err := e.store.PruneSnapshots(e.cfg.SnapshotRetain); err != nil {
		e.metrics.RecordStorageError("prune")
		e.logger.Warn("snapshot pruning failed", slog.Any("error", err))
	}
	e.logger.Info("snapshot written", slog.Uint64("sequence", e.sequence))
}

// Sequence returns the sequence of the last applied state change.
func (e *Engine) Sequence() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

// Halted returns the invariant violation that stopped the engine, or nil.
func (e *Engine) Halted() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.halted
}

// CurrentState returns a copy of the state for read-only tooling.
func (e *Engine) CurrentState() *types.ChainState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.Clone()
}
