package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/satview/internal/imagery"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
	historyTimeout      = 3 * time.Second
)

// listHistory handles GET /api/history?limit=. It returns {"attempts": [...]}
// newest first, 400 for an invalid limit, 503 when no fetch log is wired, or
// 500 if the log read fails.
func (s *Server) listHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "fetch history unavailable")
		return
	}
	limit, err := parseLimit(r, defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), historyTimeout)
	defer cancel()

	attempts, err := s.history.Recent(ctx, limit)
	if err != nil {
		s.logger.Error("list fetch history failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list fetch history")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"attempts": toAttemptDTOs(attempts),
	})
}

func parseLimit(r *http.Request, def, maxLimit int) (int, error) {
	limStr := r.URL.Query().Get("limit")
	if limStr == "" {
		return def, nil
	}
	val, err := strconv.Atoi(limStr)
	if err != nil || val <= 0 {
		return 0, errors.New("invalid limit")
	}
	if val > maxLimit {
		val = maxLimit
	}
	return val, nil
}

func toAttemptDTOs(in []imagery.Attempt) []attemptDTO {
	out := make([]attemptDTO, 0, len(in))
	for _, a := range in {
		out = append(out, attemptDTO{
			ID:         a.ID,
			StartedAt:  a.StartedAt,
			DurationMs: a.Duration.Milliseconds(),
			Success:    a.Success,
			StatusCode: a.StatusCode,
			Bytes:      a.Bytes,
			Digest:     a.Digest,
			BlobURI:    a.BlobURI,
			Reason:     a.Reason,
		})
	}
	return out
}

type attemptDTO struct {
	ID         string    `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	StatusCode int       `json:"status_code,omitempty"`
	Bytes      int       `json:"bytes"`
	Digest     string    `json:"digest,omitempty"`
	BlobURI    string    `json:"blob_uri,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}
