package ledger

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"
)

// OutputSpec describes one requested output bucket. Buckets are filled in the
// order given, so a compound regrade passes its sellable bucket first.
type OutputSpec struct {
	Kind        MovementKind
	Qty         decimal.Decimal
	QC          QCRef
	PostingType string
}

// Consumption records the amount carved out of one source line and the output
// lines it produced.
type Consumption struct {
	Source   Line
	Consumed decimal.Decimal
	Outputs  []Line
}

// Plan is a computed allocation ready to be applied atomically.
type Plan struct {
	Consumptions []Consumption
	Allocated    decimal.Decimal
	Shortfall    decimal.Decimal
}

// Lines flattens every output line in consumption order.
func (p Plan) Lines() []Line {
	var lines []Line
	for _, c := range p.Consumptions {
		lines = append(lines, c.Outputs...)
	}
	return lines
}

// Engine walks open source lines oldest-first and converts them into output
// movements. It never reprices: unit cost, currency and exchange rate are
// carried from the consumed source line.
type Engine struct {
	logger *slog.Logger
}

// NewEngine constructs Engine.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{logger: logger}
}

// PlanAllocation computes a FIFO consumption plan. Sources must be ordered
// oldest-first and contain only non-deleted lines of one product. The total
// requested output is capped at the available source quantity; the shortfall
// is reported on the plan rather than failing, matching upstream tolerance
// for rounding.
func PlanAllocation(sources []Line, required decimal.Decimal, outputs []OutputSpec) (Plan, error) {
	if required.IsNegative() {
		return Plan{}, ErrInvalidRequest
	}
	requested := decimal.Zero
	for _, out := range outputs {
		if out.Qty.IsNegative() {
			return Plan{}, ErrInvalidRequest
		}
		if out.Kind != KindRegularIn && out.Kind != KindDiscard {
			return Plan{}, ErrInvalidRequest
		}
		requested = requested.Add(out.Qty)
	}
	if requested.GreaterThan(required) {
		return Plan{}, ErrInvalidRequest
	}
	if required.IsZero() || requested.IsZero() {
		return Plan{}, nil
	}
	if len(sources) == 0 {
		return Plan{}, ErrNoSource
	}

	available := decimal.Zero
	for _, src := range sources {
		available = available.Add(src.Qty)
	}
	target := decimal.Min(requested, available)

	plan := Plan{Shortfall: requested.Sub(target)}
	buckets := make([]decimal.Decimal, len(outputs))
	for i, out := range outputs {
		buckets[i] = out.Qty
	}

	remaining := target
	bucket := 0
	for _, src := range sources {
		if !remaining.IsPositive() {
			break
		}
		if !src.Qty.IsPositive() {
			continue
		}
		take := decimal.Min(src.Qty, remaining)
		cons := Consumption{Source: src, Consumed: take}

		left := take
		for bucket < len(outputs) && left.IsPositive() {
			if !buckets[bucket].IsPositive() {
				bucket++
				continue
			}
			portion := decimal.Min(buckets[bucket], left)
			cons.Outputs = append(cons.Outputs, carve(src, outputs[bucket], portion))
			buckets[bucket] = buckets[bucket].Sub(portion)
			left = left.Sub(portion)
		}

		plan.Consumptions = append(plan.Consumptions, cons)
		plan.Allocated = plan.Allocated.Add(take)
		remaining = remaining.Sub(take)
	}
	return plan, nil
}

// carve builds one output line from a slice of the source line, carrying cost
// fields forward proportionally.
func carve(src Line, spec OutputSpec, qty decimal.Decimal) Line {
	ratio := qty.Div(src.Qty)
	return Line{
		Kind:          spec.Kind,
		ProductID:     src.ProductID,
		WarehouseID:   src.WarehouseID,
		Qty:           qty,
		UnitCost:      src.UnitCost,
		Currency:      src.Currency,
		ExchangeRate:  src.ExchangeRate,
		Amount:        src.Amount.Mul(ratio),
		ForeignAmount: src.ForeignAmount.Mul(ratio),
		TotalAmount:   src.TotalAmount.Mul(ratio),
		SourceType:    src.SourceType,
		SourceID:      src.SourceID,
		SourceLineID:  src.SourceLineID,
		QC:            spec.QC,
		PostingType:   spec.PostingType,
	}
}

// Allocate plans against the given sources and applies the result through the
// transactional repository: output lines inserted, source lines shrunk or
// soft-deleted, and on-hand balances adjusted for REGULAR_IN effects only.
func (e *Engine) Allocate(ctx context.Context, tx TxRepository, sources []Line, required decimal.Decimal, outputs []OutputSpec) (Plan, error) {
	plan, err := PlanAllocation(sources, required, outputs)
	if err != nil {
		return Plan{}, err
	}
	if plan.Shortfall.IsPositive() {
		e.logger.Warn("allocation under-supplied",
			slog.String("shortfall", plan.Shortfall.String()),
			slog.String("allocated", plan.Allocated.String()))
	}
	if err := applyPlan(ctx, tx, plan); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

type balanceKey struct {
	warehouseID int64
	productID   int64
}

func applyPlan(ctx context.Context, tx TxRepository, plan Plan) error {
	deltas := map[balanceKey]decimal.Decimal{}

	for _, cons := range plan.Consumptions {
		for _, out := range cons.Outputs {
			if _, err := tx.InsertLine(ctx, out); err != nil {
				return err
			}
			if out.Kind == KindRegularIn {
				key := balanceKey{out.WarehouseID, out.ProductID}
				deltas[key] = deltas[key].Add(out.Qty)
			}
		}

		src := cons.Source
		newQty := src.Qty.Sub(cons.Consumed)
		if src.Kind == KindRegularIn {
			key := balanceKey{src.WarehouseID, src.ProductID}
			deltas[key] = deltas[key].Sub(cons.Consumed)
		}
		if newQty.IsPositive() {
			ratio := newQty.Div(src.Qty)
			shrunk := src
			shrunk.Qty = newQty
			shrunk.Amount = src.Amount.Mul(ratio)
			shrunk.ForeignAmount = src.ForeignAmount.Mul(ratio)
			shrunk.TotalAmount = src.TotalAmount.Mul(ratio)
			if err := tx.ShrinkLine(ctx, shrunk); err != nil {
				return err
			}
		} else {
			if err := tx.SoftDeleteLine(ctx, src.ID); err != nil {
				return err
			}
		}
	}

	for key, delta := range deltas {
		if delta.IsZero() {
			continue
		}
		if err := tx.AdjustBalance(ctx, key.warehouseID, key.productID, delta); err != nil {
			return err
		}
	}
	return nil
}
