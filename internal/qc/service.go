package qc

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/freshgate-erp/freshgate-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetLot(ctx context.Context, id int64) (Lot, error)
	GetLotItem(ctx context.Context, id int64) (LotItem, error)
	ListLotItems(ctx context.Context, lotID int64) ([]LotItem, error)
	GetInspection(ctx context.Context, id int64) (Inspection, error)
	ListInspections(ctx context.Context, lotItemID int64) ([]Inspection, error)
}

// HistoryPort appends to the external QC history log.
type HistoryPort interface {
	Append(ctx context.Context, entry shared.HistoryEntry) error
}

// Service owns the lot and inspection workflow.
type Service struct {
	repo    RepositoryPort
	history HistoryPort
	media   shared.MediaStore
	logger  *slog.Logger
}

// NewService builds Service.
func NewService(repo RepositoryPort, history HistoryPort, media shared.MediaStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, history: history, media: media, logger: logger}
}

// LotItemInput describes one product line at intake.
type LotItemInput struct {
	ProductID   int64
	DeclaredQty decimal.Decimal
	NetWeightKg decimal.Decimal
	Unit        string
}

// CreateLotInput describes lot intake.
type CreateLotInput struct {
	LotNumber    string
	ContainerRef string
	Origin       string
	WarehouseID  int64
	ArrivedAt    time.Time
	ActorID      int64
	Items        []LotItemInput
}

// CreateLot registers an arrived lot with its items in DRAFT.
func (s *Service) CreateLot(ctx context.Context, input CreateLotInput) (Lot, error) {
	if input.LotNumber == "" {
		return Lot{}, fmt.Errorf("%w: lot number required", shared.ErrValidation)
	}
	if len(input.Items) == 0 {
		return Lot{}, fmt.Errorf("%w: minimal 1 lot item", shared.ErrValidation)
	}
	for _, item := range input.Items {
		if item.ProductID == 0 || !item.DeclaredQty.IsPositive() {
			return Lot{}, fmt.Errorf("%w: item needs product and positive declared qty", shared.ErrValidation)
		}
		if item.NetWeightKg.IsNegative() {
			return Lot{}, fmt.Errorf("%w: net weight must be >= 0", shared.ErrValidation)
		}
	}
	arrivedAt := input.ArrivedAt
	if arrivedAt.IsZero() {
		arrivedAt = time.Now().UTC()
	}
	lot := Lot{
		LotNumber:    input.LotNumber,
		ContainerRef: input.ContainerRef,
		Origin:       input.Origin,
		WarehouseID:  input.WarehouseID,
		ArrivedAt:    arrivedAt,
		Status:       LotStatusDraft,
		CreatedBy:    input.ActorID,
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lotID, err := tx.InsertLot(ctx, lot)
		if err != nil {
			return err
		}
		lot.ID = lotID
		for _, item := range input.Items {
			if _, err := tx.InsertLotItem(ctx, LotItem{
				LotID:       lotID,
				ProductID:   item.ProductID,
				DeclaredQty: item.DeclaredQty,
				NetWeightKg: item.NetWeightKg,
				Unit:        item.Unit,
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Lot{}, err
	}
	s.appendHistory(ctx, "lot", lot.ID, input.ActorID, "LOT_CREATE", map[string]any{
		"lot_number": lot.LotNumber,
		"items":      len(input.Items),
	})
	return lot, nil
}

// ChangeStatus performs a manual lot status transition with a reason.
func (s *Service) ChangeStatus(ctx context.Context, lotID int64, to LotStatus, reason string, actorID int64) error {
	lot, err := s.repo.GetLot(ctx, lotID)
	if err != nil {
		return err
	}
	if !CanTransition(lot.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, lot.Status, to)
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.UpdateLotStatus(ctx, lotID, to)
	})
	if err != nil {
		return err
	}
	s.appendHistory(ctx, "lot", lotID, actorID, "LOT_STATUS_CHANGE", map[string]any{
		"before": string(lot.Status),
		"after":  string(to),
		"reason": reason,
	})
	return nil
}

// DefectInput references a defect type observed during inspection.
type DefectInput struct {
	DefectTypeID int64
	Count        int
	Note         string
}

// InspectionInput carries inspection quantities and findings.
type InspectionInput struct {
	LotID         int64
	LotItemID     int64
	Decision      Decision
	AcceptedQty   decimal.Decimal
	RegradeQty    decimal.Decimal
	RejectedQty   decimal.Decimal
	Checklist     map[string]bool
	Notes         string
	Defects       []DefectInput
	EvidencePaths []string
	ActorID       int64
}

// CreateInspection records a quality assessment of a lot item. Evidence
// files are mandatory at creation.
func (s *Service) CreateInspection(ctx context.Context, input InspectionInput) (Inspection, error) {
	item, err := s.validateInspectionInput(ctx, input)
	if err != nil {
		return Inspection{}, err
	}
	if len(input.EvidencePaths) == 0 {
		return Inspection{}, ErrEvidenceRequired
	}
	insp := Inspection{
		LotID:       input.LotID,
		LotItemID:   item.ID,
		Decision:    input.Decision,
		AcceptedQty: input.AcceptedQty,
		RegradeQty:  input.RegradeQty,
		RejectedQty: input.RejectedQty,
		Checklist:   input.Checklist,
		Notes:       input.Notes,
		CreatedBy:   input.ActorID,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.InsertInspection(ctx, insp)
		if err != nil {
			return err
		}
		insp.ID = id
		return tx.ReplaceDefects(ctx, id, defectRecords(id, input.Defects))
	})
	if err != nil {
		return Inspection{}, err
	}
	if s.media != nil {
		if err := s.media.Attach(ctx, "qc_inspection", insp.ID, input.EvidencePaths); err != nil {
			s.logger.Error("attach inspection evidence", slog.Any("error", err))
		}
	}
	s.appendHistory(ctx, "inspection", insp.ID, input.ActorID, "INSPECTION_CREATE", map[string]any{
		"lot_id":   input.LotID,
		"decision": string(input.Decision),
		"accepted": input.AcceptedQty.String(),
		"regrade":  input.RegradeQty.String(),
		"rejected": input.RejectedQty.String(),
	})
	return insp, nil
}

// UpdateInspection edits an existing inspection. The lot must not be in a
// terminal-for-edits state; downstream re-settlement is incremental.
func (s *Service) UpdateInspection(ctx context.Context, inspectionID int64, input InspectionInput) (Inspection, error) {
	existing, err := s.repo.GetInspection(ctx, inspectionID)
	if err != nil {
		return Inspection{}, err
	}
	input.LotID = existing.LotID
	input.LotItemID = existing.LotItemID
	if _, err := s.validateInspectionInput(ctx, input); err != nil {
		return Inspection{}, err
	}
	updated := existing
	updated.Decision = input.Decision
	updated.AcceptedQty = input.AcceptedQty
	updated.RegradeQty = input.RegradeQty
	updated.RejectedQty = input.RejectedQty
	updated.Checklist = input.Checklist
	updated.Notes = input.Notes
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateInspection(ctx, updated); err != nil {
			return err
		}
		return tx.ReplaceDefects(ctx, inspectionID, defectRecords(inspectionID, input.Defects))
	})
	if err != nil {
		return Inspection{}, err
	}
	if s.media != nil && len(input.EvidencePaths) > 0 {
		if err := s.media.Attach(ctx, "qc_inspection", inspectionID, input.EvidencePaths); err != nil {
			s.logger.Error("attach inspection evidence", slog.Any("error", err))
		}
	}
	s.appendHistory(ctx, "inspection", inspectionID, input.ActorID, "INSPECTION_UPDATE", map[string]any{
		"before_decision": string(existing.Decision),
		"after_decision":  string(input.Decision),
		"before_accepted": existing.AcceptedQty.String(),
		"after_accepted":  input.AcceptedQty.String(),
		"before_regrade":  existing.RegradeQty.String(),
		"after_regrade":   input.RegradeQty.String(),
		"before_rejected": existing.RejectedQty.String(),
		"after_rejected":  input.RejectedQty.String(),
	})
	return updated, nil
}

// MarkSubmittedForApproval toggles the inspection approval flag. Used by the
// discard-request workflow.
func (s *Service) MarkSubmittedForApproval(ctx context.Context, inspectionID int64, submitted bool, actorID int64) error {
	if _, err := s.repo.GetInspection(ctx, inspectionID); err != nil {
		return err
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.SetInspectionSubmitted(ctx, inspectionID, submitted)
	})
	if err != nil {
		return err
	}
	s.appendHistory(ctx, "inspection", inspectionID, actorID, "INSPECTION_APPROVAL_FLAG", map[string]any{
		"submitted": submitted,
	})
	return nil
}

// GetLot loads one lot.
func (s *Service) GetLot(ctx context.Context, id int64) (Lot, error) {
	return s.repo.GetLot(ctx, id)
}

// GetLotItem loads one lot item.
func (s *Service) GetLotItem(ctx context.Context, id int64) (LotItem, error) {
	return s.repo.GetLotItem(ctx, id)
}

// GetInspection loads one inspection.
func (s *Service) GetInspection(ctx context.Context, id int64) (Inspection, error) {
	return s.repo.GetInspection(ctx, id)
}

// ListLotItems loads the items of one lot.
func (s *Service) ListLotItems(ctx context.Context, lotID int64) ([]LotItem, error) {
	return s.repo.ListLotItems(ctx, lotID)
}

// ListInspections loads the inspections recorded against one lot item.
func (s *Service) ListInspections(ctx context.Context, lotItemID int64) ([]Inspection, error) {
	return s.repo.ListInspections(ctx, lotItemID)
}

func (s *Service) validateInspectionInput(ctx context.Context, input InspectionInput) (LotItem, error) {
	if !ValidDecision(input.Decision) {
		return LotItem{}, fmt.Errorf("%w: unknown decision %q", shared.ErrValidation, input.Decision)
	}
	if input.AcceptedQty.IsNegative() || input.RegradeQty.IsNegative() || input.RejectedQty.IsNegative() {
		return LotItem{}, fmt.Errorf("%w: quantities must be >= 0", shared.ErrValidation)
	}
	lot, err := s.repo.GetLot(ctx, input.LotID)
	if err != nil {
		return LotItem{}, err
	}
	if EditsBlocked(lot.Status) {
		return LotItem{}, ErrEditsBlocked
	}
	item, err := s.repo.GetLotItem(ctx, input.LotItemID)
	if err != nil {
		return LotItem{}, err
	}
	if item.LotID != input.LotID {
		return LotItem{}, fmt.Errorf("%w: lot item %d not under lot %d", shared.ErrValidation, input.LotItemID, input.LotID)
	}
	total := input.AcceptedQty.Add(input.RegradeQty).Add(input.RejectedQty)
	if total.GreaterThan(item.DeclaredQty) {
		return LotItem{}, fmt.Errorf("%w: decided %s > declared %s", ErrQtyExceedsDeclared, total, item.DeclaredQty)
	}
	return item, nil
}

func defectRecords(inspectionID int64, inputs []DefectInput) []DefectRecord {
	var defects []DefectRecord
	for _, d := range inputs {
		if d.DefectTypeID == 0 || d.Count <= 0 {
			continue
		}
		defects = append(defects, DefectRecord{InspectionID: inspectionID, DefectTypeID: d.DefectTypeID, Count: d.Count, Note: d.Note})
	}
	return defects
}

func (s *Service) appendHistory(ctx context.Context, module string, subjectID, actorID int64, action string, detail map[string]any) {
	if s.history == nil {
		return
	}
	if err := s.history.Append(ctx, shared.HistoryEntry{
		Module:    module,
		SubjectID: subjectID,
		ActorID:   actorID,
		Action:    action,
		Detail:    detail,
	}); err != nil {
		s.logger.Error("append qc history", slog.String("action", action), slog.Any("error", err))
	}
}
