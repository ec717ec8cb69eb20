package qc

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/freshgate-erp/freshgate-erp/internal/platform/httpx"
)

// Handler wires HTTP endpoints for the lot and inspection workflow.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	validator *validator.Validate
}

// NewHandler constructs the QC handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service, validator: validator.New()}
}

// MountRoutes registers QC routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/lots", h.handleCreateLot)
	r.Get("/lots/{lotID}", h.handleGetLot)
	r.Get("/lots/{lotID}/items", h.handleListLotItems)
	r.Post("/lots/{lotID}/status", h.handleChangeStatus)
	r.Get("/lot-items/{itemID}/inspections", h.handleListInspections)
	r.Post("/inspections", h.handleCreateInspection)
	r.Put("/inspections/{inspectionID}", h.handleUpdateInspection)
	r.Get("/inspections/{inspectionID}", h.handleGetInspection)
}

type lotItemPayload struct {
	ProductID   int64  `json:"product_id" validate:"required"`
	DeclaredQty string `json:"declared_qty" validate:"required"`
	NetWeightKg string `json:"net_weight_kg"`
	Unit        string `json:"unit"`
}

type createLotPayload struct {
	LotNumber    string           `json:"lot_number" validate:"required"`
	ContainerRef string           `json:"container_ref"`
	Origin       string           `json:"origin"`
	WarehouseID  int64            `json:"warehouse_id" validate:"required"`
	ActorID      int64            `json:"actor_id" validate:"required"`
	Items        []lotItemPayload `json:"items" validate:"required,min=1,dive"`
}

func (h *Handler) handleCreateLot(w http.ResponseWriter, r *http.Request) {
	var payload createLotPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input := CreateLotInput{
		LotNumber:    payload.LotNumber,
		ContainerRef: payload.ContainerRef,
		Origin:       payload.Origin,
		WarehouseID:  payload.WarehouseID,
		ActorID:      payload.ActorID,
	}
	for _, item := range payload.Items {
		declared, err := decimal.NewFromString(item.DeclaredQty)
		if err != nil {
			httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "declared_qty must be numeric")
			return
		}
		weight := decimal.Zero
		if item.NetWeightKg != "" {
			if weight, err = decimal.NewFromString(item.NetWeightKg); err != nil {
				httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "net_weight_kg must be numeric")
				return
			}
		}
		input.Items = append(input.Items, LotItemInput{
			ProductID:   item.ProductID,
			DeclaredQty: declared,
			NetWeightKg: weight,
			Unit:        item.Unit,
		})
	}
	lot, err := h.service.CreateLot(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, lot)
}

func (h *Handler) handleGetLot(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "lotID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid lot id")
		return
	}
	lot, err := h.service.GetLot(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, lot)
}

func (h *Handler) handleListLotItems(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "lotID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid lot id")
		return
	}
	items, err := h.service.ListLotItems(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) handleListInspections(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "itemID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid lot item id")
		return
	}
	inspections, err := h.service.ListInspections(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inspections)
}

type changeStatusPayload struct {
	Status  string `json:"status" validate:"required"`
	Reason  string `json:"reason"`
	ActorID int64  `json:"actor_id" validate:"required"`
}

func (h *Handler) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "lotID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid lot id")
		return
	}
	var payload changeStatusPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	if err := h.service.ChangeStatus(r.Context(), id, LotStatus(payload.Status), payload.Reason, payload.ActorID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": payload.Status})
}

type defectPayload struct {
	DefectTypeID int64  `json:"defect_type_id" validate:"required"`
	Count        int    `json:"count" validate:"required,min=1"`
	Note         string `json:"note"`
}

type inspectionPayload struct {
	LotID         int64           `json:"lot_id"`
	LotItemID     int64           `json:"lot_item_id"`
	Decision      string          `json:"decision" validate:"required"`
	AcceptedQty   string          `json:"accepted_qty"`
	RegradeQty    string          `json:"regrade_qty"`
	RejectedQty   string          `json:"rejected_qty"`
	Checklist     map[string]bool `json:"checklist"`
	Notes         string          `json:"notes"`
	Defects       []defectPayload `json:"defects" validate:"dive"`
	EvidencePaths []string        `json:"evidence_paths"`
	ActorID       int64           `json:"actor_id" validate:"required"`
}

func (p inspectionPayload) toInput() (InspectionInput, error) {
	accepted, err := optionalDecimal(p.AcceptedQty)
	if err != nil {
		return InspectionInput{}, err
	}
	regrade, err := optionalDecimal(p.RegradeQty)
	if err != nil {
		return InspectionInput{}, err
	}
	rejected, err := optionalDecimal(p.RejectedQty)
	if err != nil {
		return InspectionInput{}, err
	}
	input := InspectionInput{
		LotID:         p.LotID,
		LotItemID:     p.LotItemID,
		Decision:      Decision(p.Decision),
		AcceptedQty:   accepted,
		RegradeQty:    regrade,
		RejectedQty:   rejected,
		Checklist:     p.Checklist,
		Notes:         p.Notes,
		EvidencePaths: p.EvidencePaths,
		ActorID:       p.ActorID,
	}
	for _, d := range p.Defects {
		input.Defects = append(input.Defects, DefectInput{DefectTypeID: d.DefectTypeID, Count: d.Count, Note: d.Note})
	}
	return input, nil
}

func (h *Handler) handleCreateInspection(w http.ResponseWriter, r *http.Request) {
	var payload inspectionPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input, err := payload.toInput()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	insp, err := h.service.CreateInspection(r.Context(), input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, insp)
}

func (h *Handler) handleUpdateInspection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "inspectionID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid inspection id")
		return
	}
	var payload inspectionPayload
	if err := httpx.DecodeJSON(r, &payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Invalid JSON", err.Error())
		return
	}
	if err := h.validator.Struct(payload); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	input, err := payload.toInput()
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}
	insp, err := h.service.UpdateInspection(r.Context(), id, input)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, insp)
}

func (h *Handler) handleGetInspection(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "inspectionID")
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", "invalid inspection id")
		return
	}
	insp, err := h.service.GetInspection(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, insp)
}

func pathID(r *http.Request, key string) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, key), 10, 64)
}

func optionalDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}
