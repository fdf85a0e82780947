// Package codec turns envelopes into ordered-log entries and back.
//
// Payloads whose JSON is larger than the threshold travel as a chunk group:
// a header entry whose text is exactly "1/N", followed immediately by N raw
// content shards. Readers reassemble a group only from the N entries that
// directly follow its header.
package codec

import (
	"fmt"
	"regexp"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/message"
)

const (
	// DefaultThreshold mirrors the per-entry payload limit of common ordered logs.
	DefaultThreshold = 1024

	// DefaultMaxChunks bounds the group size a reader will wait for.
	DefaultMaxChunks = 4096

	// PreviewLength is how much raw text an error message keeps.
	PreviewLength = 200
)

var headerPattern = regexp.MustCompile(`^(\d+)/(\d+)$`)

// Encoder splits serialized envelopes into log entries.
type Encoder struct {
	threshold int
	maxChunks int
}

// EncoderOption configures an Encoder.
type EncoderOption func(*Encoder)

// WithMaxChunks refuses payloads that need more than n shards. It should
// match the bound readers of the topic decode with.
func WithMaxChunks(n int) EncoderOption {
	return func(e *Encoder) {
		if n > 0 {
			e.maxChunks = n
		}
	}
}

// NewEncoder creates an encoder. A non-positive threshold uses
// DefaultThreshold; the shard limit defaults to DefaultMaxChunks.
func NewEncoder(threshold int, opts ...EncoderOption) *Encoder {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	e := &Encoder{threshold: threshold, maxChunks: DefaultMaxChunks}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Threshold returns the configured size threshold in bytes.
func (e *Encoder) Threshold() int {
	return e.threshold
}

// Encode serializes env and splits it into one or more entries.
func (e *Encoder) Encode(env message.Envelope) ([][]byte, error) {
	raw, err := env.Marshal()
	if err != nil {
		return nil, err
	}
	return e.EncodeBytes(raw)
}

// EncodeBytes splits an already serialized payload. The result is either a
// single entry or a "1/N" header followed by N shards. A payload needing
// more shards than the encoder allows fails with ENTRY_TOO_LARGE before
// anything is written.
func (e *Encoder) EncodeBytes(payload []byte) ([][]byte, error) {
	if len(payload) <= e.threshold {
		return [][]byte{payload}, nil
	}
	shards := split(payload, e.threshold)
	if len(shards) > e.maxChunks {
		return nil, core.ErrValidation(core.CodeEntryTooLarge,
			fmt.Sprintf("payload of %d bytes needs %d chunks (max %d)", len(payload), len(shards), e.maxChunks)).
			WithDetail("chunks", len(shards))
	}
	entries := make([][]byte, 0, len(shards)+1)
	entries = append(entries, []byte(Header(len(shards))))
	entries = append(entries, shards...)
	return entries, nil
}

// Header renders the chunk header announcing n content entries.
func Header(n int) string {
	return fmt.Sprintf("1/%d", n)
}

// ParseHeader reports whether text is a chunk header and how many content
// entries it announces.
func ParseHeader(text string) (int, bool) {
	m := headerPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[2])
	if err != nil {
		return 0, false
	}
	return n, true
}

// split cuts payload into shards of at most size bytes without breaking a
// UTF-8 sequence. A shard only exceeds size when a single rune is wider.
func split(payload []byte, size int) [][]byte {
	var shards [][]byte
	for len(payload) > 0 {
		if len(payload) <= size {
			shards = append(shards, payload)
			break
		}
		cut := size
		for cut > 0 && !utf8.RuneStart(payload[cut]) {
			cut--
		}
		if cut == 0 {
			_, w := utf8.DecodeRune(payload)
			cut = w
		}
		shards = append(shards, payload[:cut])
		payload = payload[cut:]
	}
	return shards
}

// Decoded is one logical message recovered from the log.
type Decoded struct {
	TopicID string `json:"topicId"`
	// SequenceNumber is the entry itself for standalone messages and the
	// header entry for chunk groups.
	SequenceNumber     int64            `json:"sequenceNumber"`
	LastSequence       int64            `json:"lastSequence"`
	ConsensusTimestamp time.Time        `json:"consensusTimestamp"`
	Chunks             int              `json:"chunks"`
	Raw                []byte           `json:"-"`
	Envelope           message.Envelope `json:"envelope"`
}

// IsError reports whether this message is an error-typed envelope.
func (d Decoded) IsError() bool {
	return d.Envelope.Type == message.TypeError
}

// group is an in-flight chunk group on the reader side.
type group struct {
	header   core.LogEntry
	expected int
	entries  []core.LogEntry
}

// discard swallows the shards announced by a rejected header.
type discard struct {
	next      int64
	remaining int
}

// Decoder reassembles log entries into envelopes. It keeps an in-flight
// group between Feed calls so batches may split a group anywhere.
// Not safe for concurrent use.
type Decoder struct {
	maxChunks int
	lastSeq   int64
	pending   *group
	skip      *discard
}

// NewDecoder creates a decoder. A non-positive maxChunks uses DefaultMaxChunks.
func NewDecoder(maxChunks int) *Decoder {
	if maxChunks <= 0 {
		maxChunks = DefaultMaxChunks
	}
	return &Decoder{maxChunks: maxChunks}
}

// PendingGroup describes a chunk group still waiting for shards.
type PendingGroup struct {
	HeaderSequence int64 `json:"headerSequence"`
	Collected      int   `json:"collected"`
	Expected       int   `json:"expected"`
}

// Pending returns the incomplete group, if any.
func (d *Decoder) Pending() (PendingGroup, bool) {
	if d.pending == nil {
		return PendingGroup{}, false
	}
	return PendingGroup{
		HeaderSequence: d.pending.header.SequenceNumber,
		Collected:      len(d.pending.entries),
		Expected:       d.pending.expected,
	}, true
}

// Feed consumes entries in ascending sequence order and returns every message
// completed by them. Entries at or below the last fed sequence are ignored.
func (d *Decoder) Feed(entries []core.LogEntry) []Decoded {
	var out []Decoded
	for _, entry := range entries {
		if entry.SequenceNumber <= d.lastSeq {
			continue
		}
		d.lastSeq = entry.SequenceNumber

		if d.skip != nil {
			if entry.SequenceNumber == d.skip.next {
				d.skip.next++
				d.skip.remaining--
				if d.skip.remaining == 0 {
					d.skip = nil
				}
				continue
			}
			d.skip = nil
		}

		if d.pending != nil {
			prev := d.pending.header.SequenceNumber
			if n := len(d.pending.entries); n > 0 {
				prev = d.pending.entries[n-1].SequenceNumber
			}
			if entry.SequenceNumber != prev+1 {
				out = append(out, d.abandon(fmt.Sprintf(
					"chunk group interrupted: expected sequence %d, got %d", prev+1, entry.SequenceNumber)))
			} else {
				d.pending.entries = append(d.pending.entries, entry)
				if len(d.pending.entries) == d.pending.expected {
					out = append(out, d.materialize())
				}
				continue
			}
		}

		if n, ok := ParseHeader(string(entry.Payload)); ok {
			if n <= 0 || n > d.maxChunks {
				out = append(out, errorMessage(entry, entry.SequenceNumber, 1, core.CodeChunkReassembly,
					fmt.Sprintf("chunk header announces %d entries (max %d)", n, d.maxChunks), entry.Payload))
				if n > 0 {
					d.skip = &discard{next: entry.SequenceNumber + 1, remaining: n}
				}
				continue
			}
			d.pending = &group{header: entry, expected: n, entries: make([]core.LogEntry, 0, n)}
			continue
		}

		out = append(out, standalone(entry))
	}
	return out
}

func (d *Decoder) materialize() Decoded {
	g := d.pending
	d.pending = nil

	size := 0
	for _, e := range g.entries {
		size += len(e.Payload)
	}
	raw := make([]byte, 0, size)
	for _, e := range g.entries {
		raw = append(raw, e.Payload...)
	}
	last := g.entries[len(g.entries)-1].SequenceNumber

	env, err := message.Unmarshal(raw)
	if err != nil {
		return errorMessage(g.header, last, g.expected, core.CodeChunkReassembly, "chunk reassembly failed: "+err.Error(), raw)
	}
	return Decoded{
		TopicID:            g.header.TopicID,
		SequenceNumber:     g.header.SequenceNumber,
		LastSequence:       last,
		ConsensusTimestamp: g.header.ConsensusTimestamp,
		Chunks:             g.expected,
		Raw:                raw,
		Envelope:           env,
	}
}

func (d *Decoder) abandon(reason string) Decoded {
	g := d.pending
	d.pending = nil
	var raw []byte
	last := g.header.SequenceNumber
	for _, e := range g.entries {
		raw = append(raw, e.Payload...)
		last = e.SequenceNumber
	}
	return errorMessage(g.header, last, g.expected, core.CodeChunkReassembly, reason, raw)
}

func standalone(entry core.LogEntry) Decoded {
	env, err := message.Unmarshal(entry.Payload)
	if err != nil {
		return errorMessage(entry, entry.SequenceNumber, 1, core.CodeMalformedPayload, "invalid message: "+err.Error(), entry.Payload)
	}
	return Decoded{
		TopicID:            entry.TopicID,
		SequenceNumber:     entry.SequenceNumber,
		LastSequence:       entry.SequenceNumber,
		ConsensusTimestamp: entry.ConsensusTimestamp,
		Chunks:             1,
		Raw:                entry.Payload,
		Envelope:           env,
	}
}

func errorMessage(at core.LogEntry, last int64, chunks int, code, reason string, raw []byte) Decoded {
	env, err := message.New("", -1, message.ErrorPayload{
		Code:    code,
		Message: reason,
		Preview: Preview(raw),
	})
	if err != nil {
		env = message.Envelope{Type: message.TypeError, RoundNumber: -1}
	}
	return Decoded{
		TopicID:            at.TopicID,
		SequenceNumber:     at.SequenceNumber,
		LastSequence:       last,
		ConsensusTimestamp: at.ConsensusTimestamp,
		Chunks:             chunks,
		Raw:                raw,
		Envelope:           env,
	}
}

// Preview truncates raw text to PreviewLength bytes on a rune boundary.
func Preview(raw []byte) string {
	if len(raw) <= PreviewLength {
		return string(raw)
	}
	cut := PreviewLength
	for cut > 0 && !utf8.RuneStart(raw[cut]) {
		cut--
	}
	return string(raw[:cut]) + "..."
}

// DecodeAll is a one-shot decode of a complete window of entries.
func DecodeAll(entries []core.LogEntry) []Decoded {
	return NewDecoder(0).Feed(entries)
}
