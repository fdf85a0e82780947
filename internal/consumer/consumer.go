// Package consumer reads an evaluation topic back from the ordered log and
// keeps a deduplicated, ordered view of its messages.
package consumer

import (
	"context"
	"iter"
	"sort"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/codec"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/message"
)

// DefaultPollInterval is used by Stream when no interval is given.
const DefaultPollInterval = 2 * time.Second

// Message is one decoded logical message with its payload resolved.
type Message struct {
	codec.Decoded
	// Payload is nil when the envelope data could not be decoded.
	Payload message.Payload `json:"-"`
}

// Score returns the score this message contributes, if any.
func (m Message) Score() (float64, bool) {
	return m.Envelope.Score()
}

type key struct {
	topic string
	seq   int64
}

// Consumer polls one topic. Safe for concurrent use.
type Consumer struct {
	mu      sync.Mutex
	log     core.LogReader
	topicID string
	decoder *codec.Decoder
	logger  *logging.Logger

	messages     map[key]Message
	lastSeq      int64
	highestRound int
	final        *message.FinalPayload
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithMaxChunks bounds the chunk count a header may announce.
func WithMaxChunks(n int) Option {
	return func(c *Consumer) {
		c.decoder = codec.NewDecoder(n)
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Consumer) {
		c.logger = l
	}
}

// New creates a consumer for topicID starting at the beginning of the topic.
func New(log core.LogReader, topicID string, opts ...Option) *Consumer {
	c := &Consumer{
		log:          log,
		topicID:      topicID,
		decoder:      codec.NewDecoder(0),
		logger:       logging.NewNop(),
		messages:     make(map[key]Message),
		highestRound: -1,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.WithTopic(topicID)
	return c
}

// TopicID returns the consumed topic.
func (c *Consumer) TopicID() string {
	return c.topicID
}

// Poll reads every entry after the last sequence seen and returns the
// messages completed by them that were not returned before. Entries of an
// unfinished chunk group are held until the group completes.
func (c *Consumer) Poll(ctx context.Context) ([]Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var fresh []Message
	for {
		entries, err := c.log.ReadFrom(ctx, c.topicID, c.lastSeq)
		if err != nil {
			return fresh, err
		}
		if len(entries) == 0 {
			break
		}
		for _, e := range entries {
			if e.SequenceNumber > c.lastSeq {
				c.lastSeq = e.SequenceNumber
			}
		}
		for _, d := range c.decoder.Feed(entries) {
			k := key{topic: d.TopicID, seq: d.SequenceNumber}
			if _, seen := c.messages[k]; seen {
				continue
			}
			m := c.resolve(d)
			c.messages[k] = m
			fresh = append(fresh, m)
		}
	}

	sort.Slice(fresh, func(i, j int) bool { return fresh[i].SequenceNumber < fresh[j].SequenceNumber })
	return fresh, nil
}

// resolve decodes the payload and updates round and final tracking.
func (c *Consumer) resolve(d codec.Decoded) Message {
	m := Message{Decoded: d}
	p, err := d.Envelope.Payload()
	if err != nil {
		c.logger.Warn("undecodable payload", "sequence", d.SequenceNumber, "type", d.Envelope.Type, "error", err)
		return m
	}
	m.Payload = p

	if !d.IsError() && d.Envelope.RoundNumber > c.highestRound {
		c.highestRound = d.Envelope.RoundNumber
	}
	if f, ok := p.(message.FinalPayload); ok {
		c.final = &f
	}
	if d.IsError() {
		if e, ok := p.(message.ErrorPayload); ok {
			c.logger.Warn("error message on topic", "sequence", d.SequenceNumber, "code", e.Code, "message", e.Message)
		}
	}
	return m
}

// Messages returns every message seen, ascending by sequence.
func (c *Consumer) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sortedLocked()
}

func (c *Consumer) sortedLocked() []Message {
	out := make([]Message, 0, len(c.messages))
	for _, m := range c.messages {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out
}

// LastSequence returns the highest log sequence observed.
func (c *Consumer) LastSequence() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastSeq
}

// HighestRound returns the highest round number seen, or -1.
func (c *Consumer) HighestRound() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.highestRound
}

// Final returns the consensus published by the final message. Once present
// it is authoritative over any score derived from earlier messages.
func (c *Consumer) Final() (message.FinalPayload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.final == nil {
		return message.FinalPayload{}, false
	}
	return *c.final, true
}

// StreamOptions tune Stream.
type StreamOptions struct {
	// StopOnFinal ends the stream after the final message is yielded.
	StopOnFinal bool
}

// Stream polls every interval and yields new messages in sequence order.
// Poll errors are yielded too; a non-retryable one ends the stream. The
// stream ends when ctx is done or the consumer stops ranging.
func (c *Consumer) Stream(ctx context.Context, interval time.Duration, opts StreamOptions) iter.Seq2[Message, error] {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return func(yield func(Message, error) bool) {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			msgs, err := c.Poll(ctx)
			for _, m := range msgs {
				if !yield(m, nil) {
					return
				}
				if opts.StopOnFinal && m.Envelope.Type == message.TypeFinal {
					return
				}
			}
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if !yield(Message{}, err) || !core.IsRetryable(err) {
					return
				}
			}

			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}
}
