package settlement

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/freshgate-erp/freshgate-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for settlement and reject-case follow-up.
type Handler struct {
	logger      *slog.Logger
	coordinator *Coordinator
	validator   *validator.Validate
}

// NewHandler constructs the settlement handler.
func NewHandler(logger *slog.Logger, coordinator *Coordinator) *Handler {
	return &Handler{logger: logger, coordinator: coordinator, validator: validator.New()}
}

// MountRoutes registers settlement routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/", h.handleSettle)
	r.Get("/reject-cases/{caseID}", h.handleGetCase)
	r.Post("/reject-cases/{caseID}/status", h.handleProgressCase)
	r.Get("/sell-recheck-entries", h.handleListEntries)
}

func (h *Handler) handleGetCase(w http.ResponseWriter, r *http.Request) {
	caseID, err := strconv.ParseInt(chi.URLParam(r, "caseID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid case id")
		return
	}
	rc, err := h.coordinator.GetRejectCase(r.Context(), caseID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, rc)
}

func (h *Handler) handleListEntries(w http.ResponseWriter, r *http.Request) {
	inspectionID, err := strconv.ParseInt(r.URL.Query().Get("inspection_id"), 10, 64)
	if err != nil || inspectionID <= 0 {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "inspection_id query parameter required")
		return
	}
	entries, err := h.coordinator.SellRecheckEntries(r.Context(), inspectionID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entries)
}

type settlePayload struct {
	InspectionID int64 `json:"inspection_id" validate:"required"`
	ActorID      int64 `json:"actor_id" validate:"required"`
}

func (h *Handler) handleSettle(w http.ResponseWriter, r *http.Request) {
	var payload settlePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	result, err := h.coordinator.Settle(r.Context(), SettleInput{
		InspectionID: payload.InspectionID,
		ActorID:      payload.ActorID,
	})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"skipped":               result.Skipped,
		"regular_in":            result.PostedRegularIn.String(),
		"discard":               result.PostedDiscard.String(),
		"shortfall":             result.Shortfall.String(),
		"reject_case_id":        result.RejectCaseID,
		"regrading_job_id":      result.JobID,
		"sell_recheck_entry_id": result.SellRecheckEntryID,
	})
}

type progressCasePayload struct {
	Status  string `json:"status" validate:"required"`
	Note    string `json:"note"`
	ActorID int64  `json:"actor_id" validate:"required"`
}

func (h *Handler) handleProgressCase(w http.ResponseWriter, r *http.Request) {
	caseID, err := strconv.ParseInt(chi.URLParam(r, "caseID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid case id")
		return
	}
	var payload progressCasePayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.coordinator.ProgressRejectCase(r.Context(), caseID, CaseStatus(payload.Status), payload.Note, payload.ActorID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": payload.Status})
}
