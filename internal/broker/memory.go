package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Memory is an in-process partitioned log. Every destination keeps its
// messages; each consumer group reads every partition from the beginning
// with one goroutine per partition, so per-key order is preserved.
type Memory struct {
	partitions      int
	redeliveryDelay time.Duration

	mu     sync.Mutex
	logs   map[string]*memLog
	groups map[string]bool
	acks   map[string]int
	closed bool
}

type memLog struct {
	parts  [][]Message
	notify chan struct{}
}

type MemoryOption func(*Memory)

// WithPartitions sets the partition count per destination (default 4).
func WithPartitions(n int) MemoryOption {
	return func(m *Memory) {
		if n > 0 {
			m.partitions = n
		}
	}
}

// WithRedeliveryDelay sets the pause before a failed message is handed back.
func WithRedeliveryDelay(d time.Duration) MemoryOption {
	return func(m *Memory) { m.redeliveryDelay = d }
}

func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		partitions:      4,
		redeliveryDelay: 50 * time.Millisecond,
		logs:            make(map[string]*memLog),
		groups:          make(map[string]bool),
		acks:            make(map[string]int),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Memory) logFor(dest string) *memLog {
	l, ok := m.logs[dest]
	if !ok {
		l = &memLog{parts: make([][]Message, m.partitions), notify: make(chan struct{})}
		m.logs[dest] = l
	}
	return l
}

func (m *Memory) Publish(_ context.Context, msg Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return fmt.Errorf("memory broker closed")
	}
	l := m.logFor(msg.Destination)
	p := Partition(msg.Key, m.partitions)
	l.parts[p] = append(l.parts[p], msg.Clone())
	close(l.notify)
	l.notify = make(chan struct{})
	return nil
}

// Subscribe supports one subscription per (destination, group).
func (m *Memory) Subscribe(ctx context.Context, dest, group string, h Handler) error {
	gk := dest + "|" + group
	m.mu.Lock()
	if m.groups[gk] {
		m.mu.Unlock()
		return fmt.Errorf("group %q already subscribed to %q", group, dest)
	}
	m.groups[gk] = true
	m.logFor(dest)
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.groups, gk)
		m.mu.Unlock()
	}()

	g, gctx := errgroup.WithContext(ctx)
	for p := 0; p < m.partitions; p++ {
		g.Go(func() error {
			m.consumePartition(gctx, dest, gk, p, h)
			return nil
		})
	}
	return g.Wait()
}

func (m *Memory) consumePartition(ctx context.Context, dest, gk string, p int, h Handler) {
	offset := 0
	for {
		m.mu.Lock()
		l := m.logs[dest]
		wait := l.notify
		var (
			msg Message
			ok  bool
		)
		if offset < len(l.parts[p]) {
			msg, ok = l.parts[p][offset], true
		}
		m.mu.Unlock()

		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-wait:
				continue
			}
		}
		if ctx.Err() != nil {
			return
		}
		// the handler is not cancelled by shutdown once it has started
		if err := h(context.WithoutCancel(ctx), msg.Clone()); err != nil {
			log.Warn().Err(err).Str("destination", dest).Int("partition", p).Msg("handler failed, redelivering")
			select {
			case <-ctx.Done():
				return
			case <-time.After(m.redeliveryDelay):
			}
			continue
		}
		offset++
		m.mu.Lock()
		m.acks[gk]++
		m.mu.Unlock()
	}
}

func (m *Memory) DeadLetter(dest string) string { return dest + DeadLetterSuffix }

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Messages returns everything published to dest in partition order.
func (m *Memory) Messages(dest string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Message
	if l, ok := m.logs[dest]; ok {
		for _, part := range l.parts {
			for _, msg := range part {
				out = append(out, msg.Clone())
			}
		}
	}
	return out
}

// Acks reports how many messages group has acknowledged on dest.
func (m *Memory) Acks(dest, group string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acks[dest+"|"+group]
}
