package api

import (
	"errors"
	"net/http"

	"github.com/hugo-lorenzo-mato/quorum-judge/internal/adapters/ledger"
	"github.com/hugo-lorenzo-mato/quorum-judge/internal/core"
)

func httpStatusForDomainError(err error) (int, bool) {
	var domErr *core.DomainError
	if !errors.As(err, &domErr) || domErr == nil {
		return 0, false
	}

	if domErr.Code == core.CodeEntryTooLarge {
		return http.StatusRequestEntityTooLarge, true
	}

	switch domErr.Category {
	case core.ErrCatValidation, core.ErrCatProtocol:
		return http.StatusUnprocessableEntity, true
	case core.ErrCatNotFound:
		return http.StatusNotFound, true
	case core.ErrCatTimeout:
		return http.StatusGatewayTimeout, true
	case core.ErrCatTransport:
		return http.StatusServiceUnavailable, true
	default:
		return http.StatusInternalServerError, true
	}
}

// respondError sends a JSON error response.
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, ledger.ErrorResponse{Error: message})
}

// respondDomainError maps err to a status and carries its code.
func (s *Server) respondDomainError(w http.ResponseWriter, err error) {
	status, ok := httpStatusForDomainError(err)
	if !ok {
		s.logger.Error("unexpected log error", "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
		return
	}
	respondJSON(w, status, ledger.ErrorResponse{Error: err.Error(), Code: core.GetCode(err)})
}
