// Package ledger provides ordered-log backends: in-memory, SQLite and an
// HTTP client for the log server in internal/api.
package ledger

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
)

// MemoryLog is an in-process ordered log. Safe for concurrent use.
type MemoryLog struct {
	mu           sync.RWMutex
	topics       map[string]*memoryTopic
	maxEntrySize int
	readLimit    int
	now          func() time.Time
}

type memoryTopic struct {
	memo    string
	entries []core.LogEntry
}

// MemoryLogOption configures a MemoryLog.
type MemoryLogOption func(*MemoryLog)

// WithMaxEntrySize rejects payloads larger than n bytes.
func WithMaxEntrySize(n int) MemoryLogOption {
	return func(l *MemoryLog) {
		l.maxEntrySize = n
	}
}

// WithReadLimit caps how many entries one ReadFrom returns.
func WithReadLimit(n int) MemoryLogOption {
	return func(l *MemoryLog) {
		l.readLimit = n
	}
}

// WithClock overrides the timestamp source.
func WithClock(c core.Clock) MemoryLogOption {
	return func(l *MemoryLog) {
		l.now = c.Now
	}
}

// NewMemoryLog creates an empty in-memory log.
func NewMemoryLog(opts ...MemoryLogOption) *MemoryLog {
	l := &MemoryLog{
		topics: make(map[string]*memoryTopic),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CreateTopic creates a topic with a generated id.
func (l *MemoryLog) CreateTopic(ctx context.Context, memo string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := "mem-" + uuid.NewString()

	l.mu.Lock()
	defer l.mu.Unlock()
	l.topics[id] = &memoryTopic{memo: memo}
	return id, nil
}

// Publish appends payload, assigning the next sequence number.
func (l *MemoryLog) Publish(ctx context.Context, topicID string, payload []byte) (int64, error) {
	entry, err := l.PublishEntry(ctx, topicID, payload)
	return entry.SequenceNumber, err
}

// PublishEntry is Publish returning a copy of the stored entry.
func (l *MemoryLog) PublishEntry(ctx context.Context, topicID string, payload []byte) (core.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return core.LogEntry{}, err
	}
	if l.maxEntrySize > 0 && len(payload) > l.maxEntrySize {
		return core.LogEntry{}, core.ErrValidation(core.CodeEntryTooLarge,
			fmt.Sprintf("entry of %d bytes exceeds limit of %d", len(payload), l.maxEntrySize))
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	topic, ok := l.topics[topicID]
	if !ok {
		return core.LogEntry{}, core.ErrTopicNotFound(topicID)
	}
	entry := core.LogEntry{
		TopicID:            topicID,
		SequenceNumber:     int64(len(topic.entries)) + 1,
		ConsensusTimestamp: l.now(),
		Payload:            bytes.Clone(payload),
	}
	topic.entries = append(topic.entries, entry)
	entry.Payload = bytes.Clone(entry.Payload)
	return entry, nil
}

// ReadFrom returns entries after afterSequence.
func (l *MemoryLog) ReadFrom(ctx context.Context, topicID string, afterSequence int64) ([]core.LogEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	topic, ok := l.topics[topicID]
	if !ok {
		return nil, core.ErrTopicNotFound(topicID)
	}
	if afterSequence < 0 {
		afterSequence = 0
	}
	if afterSequence >= int64(len(topic.entries)) {
		return []core.LogEntry{}, nil
	}
	window := topic.entries[afterSequence:]
	if l.readLimit > 0 && len(window) > l.readLimit {
		window = window[:l.readLimit]
	}
	// entries and their payloads are copied so callers cannot edit the log
	out := make([]core.LogEntry, len(window))
	for i, e := range window {
		e.Payload = bytes.Clone(e.Payload)
		out[i] = e
	}
	return out, nil
}

// Memo returns the memo a topic was created with.
func (l *MemoryLog) Memo(topicID string) (string, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.topics[topicID]
	if !ok {
		return "", false
	}
	return t.memo, true
}

// Len returns the number of entries in a topic.
func (l *MemoryLog) Len(topicID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if t, ok := l.topics[topicID]; ok {
		return len(t.entries)
	}
	return 0
}
