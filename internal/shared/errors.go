package shared

import "errors"

var (
	// ErrNotFound indicates a referenced lot/item/job/case is missing.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates bad or missing input, rejected before any write.
	ErrValidation = errors.New("validation failed")
	// ErrDuplicatePosting indicates the idempotent-posting guard tripped.
	ErrDuplicatePosting = errors.New("ledger entry already posted for this scope")
	// ErrMovementsDisabled indicates the inventory-movement flag is off on a
	// posting or approval path.
	ErrMovementsDisabled = errors.New("inventory movements are disabled")
	// ErrNoSource indicates no consumable source line exists for a product.
	ErrNoSource = errors.New("no consumable source line")
	// ErrInsufficientStock indicates consumable quantity is below the request.
	ErrInsufficientStock = errors.New("insufficient consumable stock")
)
