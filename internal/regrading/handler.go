package regrading

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/freshgate-erp/freshgate-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for regrading jobs.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the regrading handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers regrading routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.handleList)
	r.Get("/{jobID}", h.handleView)
	r.Post("/{jobID}/logs", h.handleAppendLog)
	r.Post("/{jobID}/complete", h.handleComplete)
	r.Post("/{jobID}/post", h.handlePost)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	status := JobStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = JobStatusActive
	}
	jobs, err := h.service.ListJobs(r.Context(), status)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, jobs)
}

func (h *Handler) handleView(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid job id")
		return
	}
	view, err := h.service.View(r.Context(), jobID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

type appendLogPayload struct {
	Date          string   `json:"date" validate:"required"`
	TakenQty      string   `json:"taken_qty" validate:"required"`
	SellableQty   string   `json:"sellable_qty"`
	DiscardedQty  string   `json:"discarded_qty"`
	Notes         string   `json:"notes"`
	EvidencePaths []string `json:"evidence_paths"`
	ActorID       int64    `json:"actor_id" validate:"required"`
}

func (h *Handler) handleAppendLog(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid job id")
		return
	}
	var payload appendLogPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	date, err := time.Parse("2006-01-02", payload.Date)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "date must be YYYY-MM-DD")
		return
	}
	taken, err := decimal.NewFromString(payload.TakenQty)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "taken_qty must be numeric")
		return
	}
	sellable, err := optionalDecimal(payload.SellableQty)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "sellable_qty must be numeric")
		return
	}
	discarded, err := optionalDecimal(payload.DiscardedQty)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "discarded_qty must be numeric")
		return
	}
	log, err := h.service.AppendDailyLog(r.Context(), AppendLogInput{
		JobID:         jobID,
		Date:          date,
		TakenQty:      taken,
		SellableQty:   sellable,
		DiscardedQty:  discarded,
		Notes:         payload.Notes,
		EvidencePaths: payload.EvidencePaths,
		ActorID:       payload.ActorID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, log)
}

type completePayload struct {
	ActorID int64 `json:"actor_id" validate:"required"`
}

func (h *Handler) handleComplete(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid job id")
		return
	}
	var payload completePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.Complete(r.Context(), jobID, payload.ActorID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(JobStatusCompleted)})
}

type postPayload struct {
	SellableQty  string `json:"sellable_qty" validate:"required"`
	DiscardedQty string `json:"discarded_qty"`
	ActorID      int64  `json:"actor_id" validate:"required"`
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	jobID, err := strconv.ParseInt(chi.URLParam(r, "jobID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid job id")
		return
	}
	var payload postPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	sellable, err := decimal.NewFromString(payload.SellableQty)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "sellable_qty must be numeric")
		return
	}
	discarded, err := optionalDecimal(payload.DiscardedQty)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "discarded_qty must be numeric")
		return
	}
	if err := h.service.Post(r.Context(), PostInput{
		JobID:        jobID,
		SellableQty:  sellable,
		DiscardedQty: discarded,
		ActorID:      payload.ActorID,
	}); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": string(JobStatusClosed)})
}

func optionalDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
