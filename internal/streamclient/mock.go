package streamclient

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Mock is an in-memory StreamClient for unit tests: exported error knobs
// the test sets before driving the component under test, plain maps instead
// of a real store.
type Mock struct {
	mu sync.Mutex

	streams map[string]*mockStream
	seq     int64

	XAddErr                 error
	XReadGroupErr           error
	XAckErr                 error
	XGroupCreateMkStreamErr error
	XAutoClaimErr           error
}

type mockEntry struct {
	id     string
	fields []string
}

type mockPending struct {
	consumer    string
	deliveredAt time.Time
}

type mockStream struct {
	entries []mockEntry
	groups  map[string]*mockGroup
}

type mockGroup struct {
	lastDelivered int // index into entries already handed out as ">"
	pending       map[string]*mockPending // entry id -> pending info
}

// NewMock constructs an empty Mock.
func NewMock() *Mock {
	return &Mock{streams: make(map[string]*mockStream)}
}

func (m *Mock) stream(name string) *mockStream {
	s, ok := m.streams[name]
	if !ok {
		s = &mockStream{groups: make(map[string]*mockGroup)}
		m.streams[name] = s
	}
	return s
}

func (m *Mock) XAdd(ctx context.Context, stream, id string, fields []string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.XAddErr != nil {
		return "", m.XAddErr
	}

	s := m.stream(stream)
	if id == "" || id == "*" {
		m.seq++
		id = fmt.Sprintf("%d-0", m.seq)
	}
	cp := append([]string(nil), fields...)
	s.entries = append(s.entries, mockEntry{id: id, fields: cp})
	return id, nil
}

func (m *Mock) XReadGroup(ctx context.Context, stream, group, consumerID string, block time.Duration) ([]Entry, error) {
	m.mu.Lock()
	if m.XReadGroupErr != nil {
		err := m.XReadGroupErr
		m.mu.Unlock()
		return nil, err
	}

	s, ok := m.streams[stream]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("NOGROUP No such key '%s' or consumer group '%s' in XREADGROUP", stream, group)
	}
	g, ok := s.groups[group]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("NOGROUP No such key '%s' or consumer group '%s' in XREADGROUP", stream, group)
	}

	var out []Entry
	for g.lastDelivered < len(s.entries) {
		e := s.entries[g.lastDelivered]
		g.lastDelivered++
		g.pending[e.id] = &mockPending{consumer: consumerID, deliveredAt: time.Now()}
		out = append(out, Entry{ID: e.id, Fields: append([]string(nil), e.fields...)})
	}
	m.mu.Unlock()

	if out == nil && block > 0 {
		// Mirror a real BLOCK timeout: briefly sleep, then report "no new
		// entries" rather than busy-spinning the caller's read loop.
		sleep := block
		if sleep > 50*time.Millisecond {
			sleep = 50 * time.Millisecond
		}
		time.Sleep(sleep)
	}
	return out, nil
}

func (m *Mock) XAck(ctx context.Context, stream, group, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.XAckErr != nil {
		return m.XAckErr
	}
	s, ok := m.streams[stream]
	if !ok {
		return nil
	}
	g, ok := s.groups[group]
	if !ok {
		return nil
	}
	delete(g.pending, id)
	return nil
}

func (m *Mock) XGroupCreateMkStream(ctx context.Context, stream, group string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.XGroupCreateMkStreamErr != nil {
		return m.XGroupCreateMkStreamErr
	}
	s := m.stream(stream)
	if _, ok := s.groups[group]; ok {
		return nil // BUSYGROUP-equivalent: idempotent success
	}
	s.groups[group] = &mockGroup{pending: make(map[string]*mockPending)}
	return nil
}

func (m *Mock) XAutoClaim(ctx context.Context, stream, group, consumerID string, minIdle time.Duration, start string, count int64) (AutoClaimResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.XAutoClaimErr != nil {
		return AutoClaimResult{}, m.XAutoClaimErr
	}

	s, ok := m.streams[stream]
	if !ok {
		return AutoClaimResult{}, fmt.Errorf("NOGROUP No such key '%s' or consumer group '%s' in XAUTOCLAIM", stream, group)
	}
	g, ok := s.groups[group]
	if !ok {
		return AutoClaimResult{}, fmt.Errorf("NOGROUP No such key '%s' or consumer group '%s' in XAUTOCLAIM", stream, group)
	}

	now := time.Now()
	var ids []string
	for id, p := range g.pending {
		if now.Sub(p.deliveredAt) >= minIdle {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return entrySeq(ids[i]) < entrySeq(ids[j]) })
	if int64(len(ids)) > count {
		ids = ids[:count]
	}

	entryByID := make(map[string]mockEntry, len(s.entries))
	for _, e := range s.entries {
		entryByID[e.id] = e
	}

	var claimed []Entry
	for _, id := range ids {
		g.pending[id] = &mockPending{consumer: consumerID, deliveredAt: now}
		if e, ok := entryByID[id]; ok {
			claimed = append(claimed, Entry{ID: id, Fields: append([]string(nil), e.fields...)})
		}
	}

	return AutoClaimResult{NextID: "0-0", Entries: claimed}, nil
}

func (m *Mock) Close() error {
	return nil
}

// PendingCount returns the number of un-acked entries for (stream, group),
// the signal tests use to assert at-least-once redelivery behavior.
func (m *Mock) PendingCount(stream, group string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.streams[stream]
	if !ok {
		return 0
	}
	g, ok := s.groups[group]
	if !ok {
		return 0
	}
	return len(g.pending)
}

func entrySeq(id string) int64 {
	parts := strings.SplitN(id, "-", 2)
	n, _ := strconv.ParseInt(parts[0], 10, 64)
	return n
}
