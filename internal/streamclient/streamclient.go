// Package streamclient wraps a Redis-Streams-compatible store behind the
// narrow capability surface QTask's core actually needs: XADD, XREADGROUP,
// XACK, XGROUP CREATE and XAUTOCLAIM. Components keep the StreamClient they
// are constructed with; the go-redis client behind it re-dials dropped
// connections from its pool, so a reconnect needs no action from callers.
package streamclient

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/clu-ai/qtask/internal/qerrors"
)

// Entry is one appended record read back from a stream: its server-assigned
// id and its ordered field/value pairs, flattened to strings.
type Entry struct {
	ID     string
	Fields []string // even-length, alternating field, value, field, value...
}

// AutoClaimResult is the (nextId, claimedEntries) tuple XAUTOCLAIM returns.
// nextId is intentionally not tracked across ticks by PartitionConsumer (see
// spec.md §4.3 and §9, "Reclaim cursor") but is still surfaced for callers
// that want it.
type AutoClaimResult struct {
	NextID  string
	Entries []Entry
}

// StreamClient is the capability surface PartitionConsumer, Publisher and
// ConsumerManager depend on. A production implementation backs it with
// go-redis/v9; tests back it with an in-memory mock (see mock.go).
type StreamClient interface {
	// XAdd appends fields to stream with the given entry id ("*" for
	// server-assigned) and returns the assigned id.
	XAdd(ctx context.Context, stream, id string, fields []string) (string, error)

	// XReadGroup issues a blocking consumer-group read for new entries
	// ("> "semantics). A nil, nil return means the block timeout elapsed
	// with no new entries — not an error.
	XReadGroup(ctx context.Context, stream, group, consumerID string, block time.Duration) ([]Entry, error)

	// XAck acknowledges a single entry id in the group's PEL.
	XAck(ctx context.Context, stream, group, id string) error

	// XGroupCreateMkStream idempotently creates group on stream starting at
	// id "0", creating the stream if absent. A BUSYGROUP response is
	// success, not an error.
	XGroupCreateMkStream(ctx context.Context, stream, group string) error

	// XAutoClaim reclaims entries idle at least minIdle, scanning from
	// start ("0-0" for QTask's always-restart policy), up to count entries.
	XAutoClaim(ctx context.Context, stream, group, consumerID string, minIdle time.Duration, start string, count int64) (AutoClaimResult, error)

	Close() error
}

// Options configures the go-redis-backed StreamClient.
type Options struct {
	Host     string
	Port     int
	Username string
	Password string
	DB       int
	// Extra passes through driver-level tuning (keepalive, TLS, pool sizing)
	// the facade's redisOptions option surfaces, applied after the fields
	// above so callers can override anything not otherwise exposed.
	Extra func(*redis.Options)
}

type client struct {
	rdb *redis.Client
}

// Dial constructs a StreamClient, pings the store to fail fast on a bad
// endpoint, and returns Connectivity-classified errors on failure so callers
// can retry per spec.md §7 (Connectivity class).
func Dial(ctx context.Context, opts Options) (StreamClient, error) {
	redisOpts := &redis.Options{
		Addr:     fmt.Sprintf("%s:%d", opts.Host, opts.Port),
		Username: opts.Username,
		Password: opts.Password,
		DB:       opts.DB,
	}
	if opts.Extra != nil {
		opts.Extra(redisOpts)
	}

	rdb := redis.NewClient(redisOpts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, qerrors.Wrap(qerrors.ClassConnectivity,
			fmt.Sprintf("failed to connect to redis at %s: %v", redisOpts.Addr, err),
			qerrors.Connectivity)
	}

	return &client{rdb: rdb}, nil
}

func (c *client) XAdd(ctx context.Context, stream, id string, fields []string) (string, error) {
	if len(fields)%2 != 0 {
		return "", fmt.Errorf("streamclient: odd number of fields for XADD")
	}
	// Values is passed as a flat []string, not a map, so field order is
	// preserved exactly as encoded by the Publisher (spec.md §8, "Encoding
	// round-trip") — a map[string]interface{} would randomize it.
	res, err := c.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		ID:     id,
		Values: fields,
	}).Result()
	if err != nil {
		return "", classifyErr(err)
	}
	return res, nil
}

func (c *client) XReadGroup(ctx context.Context, stream, group, consumerID string, block time.Duration) ([]Entry, error) {
	res, err := c.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    group,
		Consumer: consumerID,
		Streams:  []string{stream, ">"},
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, classifyErr(err)
	}

	var entries []Entry
	for _, s := range res {
		for _, msg := range s.Messages {
			entries = append(entries, Entry{ID: msg.ID, Fields: flatten(msg.Values)})
		}
	}
	return entries, nil
}

func (c *client) XAck(ctx context.Context, stream, group, id string) error {
	if err := c.rdb.XAck(ctx, stream, group, id).Err(); err != nil {
		return classifyErr(err)
	}
	return nil
}

func (c *client) XGroupCreateMkStream(ctx context.Context, stream, group string) error {
	err := c.rdb.XGroupCreateMkStream(ctx, stream, group, "0").Err()
	if err != nil && !isBusyGroup(err) {
		return classifyErr(err)
	}
	return nil
}

func (c *client) XAutoClaim(ctx context.Context, stream, group, consumerID string, minIdle time.Duration, start string, count int64) (AutoClaimResult, error) {
	msgs, next, err := c.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   stream,
		Group:    group,
		Consumer: consumerID,
		MinIdle:  minIdle,
		Start:    start,
		Count:    count,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return AutoClaimResult{NextID: "0-0"}, nil
		}
		return AutoClaimResult{}, classifyErr(err)
	}

	entries := make([]Entry, 0, len(msgs))
	for _, msg := range msgs {
		entries = append(entries, Entry{ID: msg.ID, Fields: flatten(msg.Values)})
	}
	return AutoClaimResult{NextID: next, Entries: entries}, nil
}

func (c *client) Close() error {
	return c.rdb.Close()
}

// flatten converts a go-redis XMessage.Values map back into field/value
// pairs. go-redis exposes the wire-level field order as a Go map, so exact
// insertion order is only guaranteed when the store preserves field order
// and the caller observes a single field — the same caveat spec.md §8
// attaches to the encoding round-trip property.
func flatten(values map[string]interface{}) []string {
	out := make([]string, 0, len(values)*2)
	for k, v := range values {
		out = append(out, k, fmt.Sprintf("%v", v))
	}
	return out
}

func isBusyGroup(err error) bool {
	return strings.Contains(err.Error(), "BUSYGROUP")
}

// IsNoGroup reports whether err is a NOGROUP / no-such-key protocol error
// (spec.md §4.3, readloop_nogroup / autoclaim_nogroup context).
func IsNoGroup(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "NOGROUP") || strings.Contains(msg, "no such key")
}

// IsUnsupportedAutoClaim reports whether err indicates the store predates
// XAUTOCLAIM support (spec.md §4.3, autoclaim_unsupported).
func IsUnsupportedAutoClaim(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToUpper(err.Error())
	return strings.Contains(msg, "UNKNOWN COMMAND") && strings.Contains(msg, "XAUTOCLAIM")
}

// classifyErr wraps driver errors as Connectivity-class unless they are
// recognizably protocol-level (NOGROUP et al.), which callers branch on via
// IsNoGroup/IsUnsupportedAutoClaim rather than class alone.
func classifyErr(err error) error {
	if err == nil {
		return nil
	}
	if IsNoGroup(err) || IsUnsupportedAutoClaim(err) {
		return qerrors.Wrap(qerrors.ClassProtocol, err.Error(), err)
	}
	return qerrors.Wrap(qerrors.ClassConnectivity, err.Error(), err)
}
