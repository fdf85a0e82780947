package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/codec"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/logging"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/message"
)

// Publisher writes envelopes to one topic. A chunk group's header and
// shards are appended under one lock so no other envelope from this
// publisher can land between them.
type Publisher struct {
	mu      sync.Mutex
	log     core.OrderedLog
	topicID string
	encoder *codec.Encoder
	retry   *RetryPolicy
	clock   core.Clock
	logger  *logging.Logger
}

// NewPublisher creates a publisher for topicID.
func NewPublisher(log core.OrderedLog, topicID string, encoder *codec.Encoder, retry *RetryPolicy, clock core.Clock, logger *logging.Logger) *Publisher {
	if retry == nil {
		retry = DefaultRetryPolicy()
	}
	if clock == nil {
		clock = core.SystemClock{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Publisher{
		log:     log,
		topicID: topicID,
		encoder: encoder,
		retry:   retry,
		clock:   clock,
		logger:  logger,
	}
}

// TopicID returns the topic this publisher writes to.
func (p *Publisher) TopicID() string {
	return p.topicID
}

// Publish encodes env and appends every resulting entry. On failure the
// returned error is a LOG_PUBLISH_FAILED domain error.
func (p *Publisher) Publish(ctx context.Context, env message.Envelope) (core.PublishedMessage, error) {
	entries, err := p.encoder.Encode(env)
	if core.GetCode(err) == core.CodeEntryTooLarge {
		return core.PublishedMessage{}, err
	}
	if err != nil {
		return core.PublishedMessage{}, core.ErrProtocol(core.CodeMalformedPayload, "encoding envelope").WithCause(err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	published := core.PublishedMessage{
		Type:        string(env.Type),
		AgentName:   env.AgentName,
		RoundNumber: env.RoundNumber,
		Chunks:      len(entries),
		PublishedAt: p.clock.Now(),
	}
	if len(entries) > 1 {
		// header is not content
		published.Chunks = len(entries) - 1
	}

	for i, entry := range entries {
		seq, err := p.append(ctx, entry)
		if err != nil {
			return published, publishFailed(p.topicID,
				fmt.Sprintf("publishing %s entry %d/%d", env.Type, i+1, len(entries)), err)
		}
		if i == 0 {
			published.FirstSequence = seq
		}
		published.LastSequence = seq
	}
	return published, nil
}

func (p *Publisher) append(ctx context.Context, entry []byte) (int64, error) {
	return retryValue(ctx, p.retry, func(ctx context.Context) (int64, error) {
		return p.log.Publish(ctx, p.topicID, entry)
	}, func(attempt int, err error, delay time.Duration) {
		p.logger.Warn("log publish failed, retrying",
			"topic_id", p.topicID,
			"attempt", attempt,
			"delay", delay,
			"error", err)
	})
}

// publishFailed is terminal: retries already ran.
func publishFailed(topicID, msg string, cause error) *core.DomainError {
	err := core.ErrTransport(core.CodeLogPublishFailed, msg).WithCause(cause).WithDetail("topic_id", topicID)
	err.Retryable = false
	return err
}
