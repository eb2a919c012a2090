package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/actuary-jobs-crawler/internal/jobs"
)

const (
	defaultRunLimit = 20
	maxRunLimit     = 200
	ledgerTimeout   = 3 * time.Second
)

// RunHandler exposes read-only run ledger endpoints.
type RunHandler struct {
	runs    jobs.RunReader
	timeout time.Duration
	logger  *zap.Logger
}

// NewRunHandler wires the ledger and logger.
func NewRunHandler(runs jobs.RunReader, logger *zap.Logger) *RunHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RunHandler{
		runs:    runs,
		timeout: ledgerTimeout,
		logger:  logger,
	}
}

// ListRuns handles GET /v1/runs?limit=&offset=. It returns {"runs": [...]},
// newest first, 400 for invalid paging, 503 without a ledger, or 500 when the
// ledger query fails.
func (h *RunHandler) ListRuns(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run ledger unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultRunLimit, maxRunLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	runs, err := h.runs.ListRuns(ctx, limit, offset)
	if err != nil {
		h.logger.Error("list runs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": toRunDTOs(runs)})
}

// GetRun handles GET /v1/runs/{run_id}. It returns {"run": {...}}, 404 when
// the ledger reports jobs.ErrRunNotFound, 503 without a ledger, or 500.
func (h *RunHandler) GetRun(w http.ResponseWriter, r *http.Request) {
	if h.runs == nil {
		writeError(w, http.StatusServiceUnavailable, "run ledger unavailable")
		return
	}
	runID := strings.TrimSpace(chi.URLParam(r, "run_id"))
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id required")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	run, err := h.runs.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, jobs.ErrRunNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		h.logger.Error("get run failed", zap.String("run_id", runID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"run": toRunDTO(run)})
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

type runDTO struct {
	RunID      string     `json:"run_id"`
	State      string     `json:"state"`
	StopReason string     `json:"stop_reason,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Pages      int        `json:"pages"`
	Cards      int        `json:"cards"`
	Inserted   int        `json:"inserted"`
	Duplicates int        `json:"duplicates"`
	Failed     int        `json:"failed"`
	Skipped    int        `json:"skipped"`
	Error      string     `json:"error,omitempty"`
}

func toRunDTOs(in []jobs.RunSummary) []runDTO {
	out := make([]runDTO, 0, len(in))
	for _, run := range in {
		out = append(out, toRunDTO(run))
	}
	return out
}

func toRunDTO(run jobs.RunSummary) runDTO {
	dto := runDTO{
		RunID:      run.RunID,
		State:      run.State,
		StopReason: run.StopReason,
		StartedAt:  run.StartedAt,
		Pages:      run.Pages,
		Cards:      run.Cards,
		Inserted:   run.Inserted,
		Duplicates: run.Duplicates,
		Failed:     run.Failed,
		Skipped:    run.Skipped,
		Error:      run.Error,
	}
	if !run.FinishedAt.IsZero() {
		finished := run.FinishedAt
		dto.FinishedAt = &finished
	}
	return dto
}
