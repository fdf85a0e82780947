package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/adapters/ledger"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/consumer"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
)

// handleCreateTopic creates a topic.
func (s *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	var req ledger.CreateTopicRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, msgInvalidRequestBody)
			return
		}
	}

	id, err := s.log.CreateTopic(r.Context(), req.Memo)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.topicsCreated.Add(1)
	s.logger.Info("topic created", "topic_id", id, "memo", req.Memo)
	respondJSON(w, http.StatusCreated, ledger.CreateTopicResponse{TopicID: id})
}

// handlePublish appends one base64-encoded entry.
func (s *Server) handlePublish(w http.ResponseWriter, r *http.Request) {
	topicID := chi.URLParam(r, "topicID")

	var req ledger.PublishRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, msgInvalidRequestBody+": message must be base64")
		return
	}
	if len(req.Message) == 0 {
		respondError(w, http.StatusBadRequest, msgMessageRequired)
		return
	}
	if s.maxEntrySize > 0 && len(req.Message) > s.maxEntrySize {
		respondJSON(w, http.StatusRequestEntityTooLarge, ledger.ErrorResponse{
			Error: fmt.Sprintf("entry of %d bytes exceeds limit of %d", len(req.Message), s.maxEntrySize),
			Code:  core.CodeEntryTooLarge,
		})
		return
	}

	entry, err := s.publish(r.Context(), topicID, req.Message)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	s.entriesPublished.Add(1)
	respondJSON(w, http.StatusCreated, ledger.PublishResponse{
		SequenceNumber:     entry.SequenceNumber,
		ConsensusTimestamp: entry.ConsensusTimestamp,
	})
}

// publish appends payload and returns the entry as stored. Logs that cannot
// report it directly are read back at the assigned sequence.
func (s *Server) publish(ctx context.Context, topicID string, payload []byte) (core.LogEntry, error) {
	if ep, ok := s.log.(core.EntryPublisher); ok {
		return ep.PublishEntry(ctx, topicID, payload)
	}
	seq, err := s.log.Publish(ctx, topicID, payload)
	if err != nil {
		return core.LogEntry{}, err
	}
	entry := core.LogEntry{TopicID: topicID, SequenceNumber: seq}
	stored, err := s.log.ReadFrom(ctx, topicID, seq-1)
	if err == nil && len(stored) > 0 && stored[0].SequenceNumber == seq {
		entry.ConsensusTimestamp = stored[0].ConsensusTimestamp
	} else {
		s.logger.Warn("could not read back published entry", "topic_id", topicID, "sequence", seq, "error", err)
	}
	return entry, nil
}

// handleListMessages returns entries after ?sequencenumber=gt:N.
func (s *Server) handleListMessages(w http.ResponseWriter, r *http.Request) {
	topicID := chi.URLParam(r, "topicID")

	after, err := parseSequenceFilter(r.URL.Query().Get("sequencenumber"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	entries, err := s.log.ReadFrom(r.Context(), topicID, after)
	if err != nil {
		s.respondDomainError(w, err)
		return
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	if entries == nil {
		entries = []core.LogEntry{}
	}
	respondJSON(w, http.StatusOK, ledger.MessagesResponse{Messages: entries})
}

// handleSnapshot decodes the whole topic and returns it grouped by round.
func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	c := consumer.New(s.log, chi.URLParam(r, "topicID"), consumer.WithMaxChunks(s.maxChunks))
	if _, err := c.Poll(r.Context()); err != nil {
		s.respondDomainError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, c.Snapshot())
}

// parseSequenceFilter accepts "", "gt:N" or a bare N (treated as gt).
func parseSequenceFilter(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	v = strings.TrimPrefix(v, "gt:")
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid sequencenumber filter %q", v)
	}
	return n, nil
}

func parseLimit(v string) (int, error) {
	if v == "" {
		return defaultReadLimit, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid limit %q", v)
	}
	if n > maxReadLimit {
		n = maxReadLimit
	}
	return n, nil
}
