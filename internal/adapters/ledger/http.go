package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
)

// HTTPLog talks to a log server over its REST API. Payloads travel base64
// encoded inside JSON bodies.
type HTTPLog struct {
	baseURL   string
	client    *http.Client
	readLimit int
}

// HTTPLogOption configures an HTTPLog.
type HTTPLogOption func(*HTTPLog)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) HTTPLogOption {
	return func(l *HTTPLog) {
		l.client = c
	}
}

// WithHTTPReadLimit sets the limit query parameter sent on reads.
func WithHTTPReadLimit(n int) HTTPLogOption {
	return func(l *HTTPLog) {
		l.readLimit = n
	}
}

// NewHTTPLog creates a client for the server at baseURL.
func NewHTTPLog(baseURL string, opts ...HTTPLogOption) *HTTPLog {
	l := &HTTPLog{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Wire types shared with internal/api.

// CreateTopicRequest is the body of POST /api/v1/topics.
type CreateTopicRequest struct {
	Memo string `json:"memo"`
}

// CreateTopicResponse is returned by POST /api/v1/topics.
type CreateTopicResponse struct {
	TopicID string `json:"topic_id"`
}

// PublishRequest is the body of POST /api/v1/topics/{id}/messages.
// Message is base64 via encoding/json's []byte handling.
type PublishRequest struct {
	Message []byte `json:"message"`
}

// PublishResponse is returned after a successful publish.
type PublishResponse struct {
	SequenceNumber     int64     `json:"sequence_number"`
	ConsensusTimestamp time.Time `json:"consensus_timestamp"`
}

// MessagesResponse is returned by GET /api/v1/topics/{id}/messages.
type MessagesResponse struct {
	Messages []core.LogEntry `json:"messages"`
}

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// CreateTopic creates a topic on the server.
func (l *HTTPLog) CreateTopic(ctx context.Context, memo string) (string, error) {
	var resp CreateTopicResponse
	if err := l.do(ctx, http.MethodPost, "/api/v1/topics", CreateTopicRequest{Memo: memo}, &resp); err != nil {
		return "", err
	}
	if resp.TopicID == "" {
		return "", core.ErrTransport(core.CodeLogUnavailable, "server returned an empty topic id")
	}
	return resp.TopicID, nil
}

// Publish sends one entry.
func (l *HTTPLog) Publish(ctx context.Context, topicID string, payload []byte) (int64, error) {
	entry, err := l.PublishEntry(ctx, topicID, payload)
	return entry.SequenceNumber, err
}

// PublishEntry is Publish returning the entry as the server stored it.
func (l *HTTPLog) PublishEntry(ctx context.Context, topicID string, payload []byte) (core.LogEntry, error) {
	var resp PublishResponse
	path := "/api/v1/topics/" + url.PathEscape(topicID) + "/messages"
	if err := l.do(ctx, http.MethodPost, path, PublishRequest{Message: payload}, &resp); err != nil {
		return core.LogEntry{}, err
	}
	return core.LogEntry{
		TopicID:            topicID,
		SequenceNumber:     resp.SequenceNumber,
		ConsensusTimestamp: resp.ConsensusTimestamp,
		Payload:            payload,
	}, nil
}

// ReadFrom fetches entries after afterSequence.
func (l *HTTPLog) ReadFrom(ctx context.Context, topicID string, afterSequence int64) ([]core.LogEntry, error) {
	q := url.Values{}
	q.Set("sequencenumber", "gt:"+strconv.FormatInt(afterSequence, 10))
	if l.readLimit > 0 {
		q.Set("limit", strconv.Itoa(l.readLimit))
	}
	path := "/api/v1/topics/" + url.PathEscape(topicID) + "/messages?" + q.Encode()

	var resp MessagesResponse
	if err := l.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	if resp.Messages == nil {
		return []core.LogEntry{}, nil
	}
	return resp.Messages, nil
}

func (l *HTTPLog) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, l.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := l.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return core.ErrTransport(core.CodeLogUnavailable, method+" "+path).WithCause(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return core.ErrTransport(core.CodeLogUnavailable, "reading response").WithCause(err)
	}

	if resp.StatusCode >= 300 {
		return statusError(resp.StatusCode, data)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return core.ErrProtocol(core.CodeMalformedPayload, "decoding server response").WithCause(err)
	}
	return nil
}

// statusError maps a server error reply back onto a domain error so callers
// see the same categories as with the local backends.
func statusError(status int, body []byte) error {
	var er ErrorResponse
	_ = json.Unmarshal(body, &er)
	msg := er.Error
	if msg == "" {
		msg = http.StatusText(status)
	}

	switch {
	case status == http.StatusNotFound:
		code := er.Code
		if code == "" {
			code = core.CodeTopicNotFound
		}
		return &core.DomainError{Category: core.ErrCatNotFound, Code: code, Message: msg}
	case status == http.StatusRequestEntityTooLarge || er.Code == core.CodeEntryTooLarge:
		return core.ErrValidation(core.CodeEntryTooLarge, msg)
	case status >= 400 && status < 500 && status != http.StatusTooManyRequests && status != http.StatusRequestTimeout:
		code := er.Code
		if code == "" {
			code = core.CodeInvalidConfig
		}
		return core.ErrValidation(code, msg)
	default:
		code := er.Code
		if code == "" {
			code = core.CodeLogUnavailable
		}
		return core.ErrTransport(code, fmt.Sprintf("server returned %d: %s", status, msg))
	}
}
