// Package consumer implements PartitionConsumer (spec.md §4.3): a
// long-running worker bound to one (stream, group, consumerId) triple that
// blocks on new entries, periodically reclaims stalled pending entries, and
// surfaces reconstructed messages to a handler with the ack performed by the
// framework on success (spec.md §9, "Observer callbacks -> explicit
// contract").
package consumer

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clu-ai/qtask/internal/logging"
	"github.com/clu-ai/qtask/internal/metrics"
	"github.com/clu-ai/qtask/internal/qerrors"
	"github.com/clu-ai/qtask/internal/streamclient"
	"go.uber.org/zap"
)

// State is one of the PartitionConsumer lifecycle states of spec.md §4.3.
type State int32

const (
	StateIdle State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Field is one ordered key/value pair of a reconstructed message.
type Field struct {
	Key   string
	Value string
}

// Handler processes one reconstructed message. Returning nil acks the
// entry; returning an error leaves it in the group's PEL as a future
// reclaim candidate (spec.md §4.3, "Acknowledgement closure").
type Handler func(ctx context.Context, entryID string, fields []Field) error

// ErrorHook observes errors PartitionConsumer encounters, tagged with the
// context string spec.md §4.3's error taxonomy names (e.g.
// "readloop_nogroup", "autoclaim_redis_conn", "handler_<id>"). Entries with a
// malformed field list are logged and dropped without reaching this hook.
type ErrorHook func(err error, context string)

// Config tunes one PartitionConsumer instance.
type Config struct {
	Stream        string
	Group         string
	ConsumerID    string
	BlockTimeout  time.Duration // default 2000ms
	ClaimInterval time.Duration // default 300000ms
	MinIdleTime   time.Duration // default 60000ms
}

// DefaultConfig returns a Config for (stream, group, consumerID) with the
// default tunables spec.md §4.3 names. New separately fills any tunable left
// at its zero value with the same defaults.
func DefaultConfig(stream, group, consumerID string) Config {
	return Config{
		Stream:        stream,
		Group:         group,
		ConsumerID:    consumerID,
		BlockTimeout:  2000 * time.Millisecond,
		ClaimInterval: 300000 * time.Millisecond,
		MinIdleTime:   60000 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	if c.BlockTimeout <= 0 {
		c.BlockTimeout = 2000 * time.Millisecond
	}
	if c.ClaimInterval <= 0 {
		c.ClaimInterval = 300000 * time.Millisecond
	}
	if c.MinIdleTime <= 0 {
		c.MinIdleTime = 60000 * time.Millisecond
	}
	return c
}

// PartitionConsumer is a long-running unit bound to a single
// (stream, group, consumerId). It owns no shared mutable state beyond its
// own running flag and logger (spec.md §3, §5).
type PartitionConsumer struct {
	cfg    Config
	client streamclient.StreamClient
	logger *zap.Logger

	onMessage Handler
	onError   ErrorHook

	state     atomic.Int32
	stopCh    chan struct{}
	doneRead  chan struct{}
	doneClaim chan struct{}
	once      sync.Once
}

// New constructs an Idle PartitionConsumer. Call OnMessage (and optionally
// OnError) before Start.
func New(client streamclient.StreamClient, cfg Config) *PartitionConsumer {
	cfg = cfg.withDefaults()
	c := &PartitionConsumer{
		cfg:    cfg,
		client: client,
		logger: logging.With(
			logging.String("stream", cfg.Stream),
			logging.String("group", cfg.Group),
			logging.String("consumer_id", cfg.ConsumerID),
		),
	}
	c.state.Store(int32(StateIdle))
	return c
}

// OnMessage registers the handler invoked for each reconstructed message.
func (c *PartitionConsumer) OnMessage(h Handler) { c.onMessage = h }

// OnError registers the hook invoked for every error context.
func (c *PartitionConsumer) OnError(h ErrorHook) { c.onError = h }

// State returns the consumer's current lifecycle state.
func (c *PartitionConsumer) State() State { return State(c.state.Load()) }

// Start transitions Idle -> Running and launches the read loop and reclaim
// ticker. Starting an already-running consumer is an idempotent no-op
// (warn, no error) per spec.md §4.3.
func (c *PartitionConsumer) Start() {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(StateRunning)) {
		c.logger.Warn("start called on non-idle consumer, ignoring", logging.String("state", c.State().String()))
		return
	}

	c.stopCh = make(chan struct{})
	c.doneRead = make(chan struct{})
	c.doneClaim = make(chan struct{})

	c.logger.Info("partition consumer starting")
	go c.readLoop()
	go c.reclaimTicker()
}

// Stop transitions Running -> Stopping and blocks until both background
// loops have exited. Stopping an already-stopped consumer is idempotent.
func (c *PartitionConsumer) Stop() {
	c.once.Do(func() {
		if !c.state.CompareAndSwap(int32(StateRunning), int32(StateStopping)) {
			// Either never started or already stopping/stopped: still mark
			// terminal so a subsequent Stop is a true no-op.
			if c.State() == StateIdle {
				c.state.Store(int32(StateStopped))
				return
			}
		}
		close(c.stopCh)
		<-c.doneRead
		<-c.doneClaim
		c.state.Store(int32(StateStopped))
		c.logger.Info("partition consumer stopped")
	})
}

// readLoop implements spec.md §4.3 activity 1: a blocking group-read for
// new entries, re-checking the running flag after every suspension so Stop
// is observed within BlockTimeout + one retry interval in the worst case.
//
// A panic escaping one iteration is the only "fatal_loop_error" case spec.md
// §4.3's state diagram names — every documented error (NOGROUP, connectivity,
// unsupported autoclaim, anything else XREADGROUP returns) is retried
// forever by handleReadError instead. A caught panic short-circuits straight
// to Stopped rather than looping: runReadIteration recovers the panic and
// returns it as an error so this function's own defer still runs cleanly.
func (c *PartitionConsumer) readLoop() {
	defer close(c.doneRead)

	for {
		select {
		case <-c.stopCh:
			return
		default:
		}

		if fatal := c.runReadIteration(); fatal != nil {
			c.failFatal(fatal)
			return
		}

		select {
		case <-c.stopCh:
			return
		default:
		}
	}
}

// runReadIteration performs one XREADGROUP call and dispatch pass, recovering
// any panic and returning it as an error instead of letting it escape.
func (c *PartitionConsumer) runReadIteration() (fatal error) {
	defer func() {
		if r := recover(); r != nil {
			fatal = fmt.Errorf("panic in read loop: %v", r)
		}
	}()

	start := time.Now()
	entries, err := c.client.XReadGroup(context.Background(), c.cfg.Stream, c.cfg.Group, c.cfg.ConsumerID, c.cfg.BlockTimeout)
	metrics.ObserveReadLatency(c.cfg.Stream, c.cfg.Group, time.Since(start))

	if err != nil {
		c.handleReadError(err)
		return nil
	}

	for _, e := range entries {
		c.dispatch(e)
	}
	return nil
}

// failFatal implements the fatal_loop_error transition straight to Stopped.
// It shares Stop's sync.Once so a concurrent or subsequent Stop call never
// double-closes stopCh and never blocks waiting on a loop that already
// exited through this path.
func (c *PartitionConsumer) failFatal(err error) {
	c.emitError(err, "fatal_loop_error")
	c.once.Do(func() {
		c.state.Store(int32(StateStopped))
		close(c.stopCh)
		<-c.doneClaim
		c.logger.Error("partition consumer stopped after fatal read loop error")
	})
}

// handleReadError implements spec.md §4.3's error taxonomy for the read
// loop. Every branch retries: none of these are "fatal_loop_error", which is
// reserved for a recovered panic (see failFatal).
func (c *PartitionConsumer) handleReadError(err error) {
	switch {
	case streamclient.IsUnsupportedAutoClaim(err):
		// Doesn't actually happen on XREADGROUP, but mirrors the same
		// store-capability check performed in the reclaim ticker in case a
		// future driver surfaces it here too.
		c.emitError(err, "readloop_xreadgroup")
		c.sleepUnlessStopping(2000 * time.Millisecond)
	case streamclient.IsNoGroup(err):
		c.emitError(err, "readloop_nogroup")
		if createErr := c.client.XGroupCreateMkStream(context.Background(), c.cfg.Stream, c.cfg.Group); createErr != nil {
			c.logger.Warn("group re-creation failed, will retry next tick", logging.ErrorField(createErr))
		}
		c.sleepUnlessStopping(5000 * time.Millisecond)
	case isConnectivity(err):
		c.emitError(err, "readloop_redis_conn")
		backoff := c.cfg.BlockTimeout
		if backoff < 5000*time.Millisecond {
			backoff = 5000 * time.Millisecond
		}
		c.sleepUnlessStopping(backoff)
	default:
		c.emitError(err, "readloop_xreadgroup")
		c.sleepUnlessStopping(2000 * time.Millisecond)
	}
}

func (c *PartitionConsumer) sleepUnlessStopping(d time.Duration) {
	select {
	case <-time.After(d):
	case <-c.stopCh:
	}
}

// reclaimTicker implements spec.md §4.3 activity 2. It is a cancellable
// ticker, not nested scheduled timers (spec.md §9): cancellation on Stop is
// immediate; an in-flight tick is allowed to finish but never re-arms.
func (c *PartitionConsumer) reclaimTicker() {
	defer close(c.doneClaim)

	ticker := time.NewTicker(c.cfg.ClaimInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			if !c.reclaimOnce() {
				return // autoclaim_unsupported: stop reclaiming permanently
			}
		}
	}
}

// reclaimOnce issues one XAUTOCLAIM scan, always restarting from "0-0"
// (spec.md §9, "Reclaim cursor"). Returns false if the store doesn't
// support XAUTOCLAIM, signaling the ticker to exit for good.
func (c *PartitionConsumer) reclaimOnce() bool {
	result, err := c.client.XAutoClaim(context.Background(), c.cfg.Stream, c.cfg.Group, c.cfg.ConsumerID, c.cfg.MinIdleTime, "0-0", 10)
	if err != nil {
		switch {
		case streamclient.IsUnsupportedAutoClaim(err):
			c.emitError(err, "autoclaim_unsupported")
			c.logger.Warn("store does not support XAUTOCLAIM, reclaim disabled permanently for this consumer")
			return false // ticker exits for good; read loop keeps running read-only
		case streamclient.IsNoGroup(err):
			c.emitError(err, "autoclaim_nogroup")
			if createErr := c.client.XGroupCreateMkStream(context.Background(), c.cfg.Stream, c.cfg.Group); createErr != nil {
				c.logger.Warn("group re-creation failed during reclaim", logging.ErrorField(createErr))
			}
		case isConnectivity(err):
			c.emitError(err, "autoclaim_redis_conn")
		default:
			c.emitError(err, "autoclaim")
		}
		return true // a failed tick never cancels the ticker
	}

	metrics.AddReclaimed(c.cfg.Stream, c.cfg.Group, len(result.Entries))
	for _, e := range result.Entries {
		c.dispatch(e)
	}
	return true
}

// dispatch implements message reconstruction (spec.md §4.3.1) and the
// acknowledgement closure.
func (c *PartitionConsumer) dispatch(e streamclient.Entry) {
	if len(e.Fields) == 0 || len(e.Fields)%2 != 0 {
		c.logger.Warn("dropping entry with malformed field list",
			logging.String("entry_id", e.ID), logging.Int("field_count", len(e.Fields)))
		return
	}

	fields := make([]Field, 0, len(e.Fields)/2)
	for i := 0; i+1 < len(e.Fields); i += 2 {
		fields = append(fields, Field{Key: e.Fields[i], Value: e.Fields[i+1]})
	}

	metrics.IncConsumed(c.cfg.Stream, c.cfg.Group)

	if c.onMessage == nil {
		c.logger.Warn("no handler registered, entry left unacked", logging.String("entry_id", e.ID))
		return
	}

	if err := c.onMessage(context.Background(), e.ID, fields); err != nil {
		c.emitError(err, fmt.Sprintf("handler_%s", e.ID))
		return
	}

	if err := c.client.XAck(context.Background(), c.cfg.Stream, c.cfg.Group, e.ID); err != nil {
		c.emitError(err, fmt.Sprintf("ack_%s", e.ID))
		return
	}
	metrics.IncAcked(c.cfg.Stream, c.cfg.Group)
}

func (c *PartitionConsumer) emitError(err error, context string) {
	metrics.IncConsumerError(c.cfg.Stream, c.cfg.Group, context)
	c.logger.Error("partition consumer error", logging.String("context", context), logging.ErrorField(err))
	if c.onError != nil {
		c.onError(err, context)
	}
}

func isConnectivity(err error) bool {
	return qerrors.Is(err, qerrors.ClassConnectivity)
}
