package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// ExecutionRecord is the terminal outcome of one opportunity, written once
// when the pipeline reaches Included, Failed, or Expired. Historical records
// are an external collaborator's concern; the engine only appends them.
type ExecutionRecord struct {
	ID            string           `json:"id"`
	OpportunityID string           `json:"opportunity_id"`
	StartToken    string           `json:"start_token"`
	PathCount     int              `json:"path_count"`
	Hops          int              `json:"hops"`
	Status        OpportunityState `json:"status"`
	FailReason    string           `json:"fail_reason,omitempty"`

	FlashLoan     bool   `json:"flash_loan"`
	TargetBlock   uint64 `json:"target_block"`
	IncludedBlock uint64 `json:"included_block,omitempty"`
	GasUsed       uint64 `json:"gas_used,omitempty"`

	ExpectedProfit decimal.Decimal `json:"expected_profit"`
	RealizedProfit decimal.Decimal `json:"realized_profit"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ExecutionStore persists terminal execution records.
type ExecutionStore interface {
	Create(ctx context.Context, rec ExecutionRecord) error
	GetByID(ctx context.Context, id string) (ExecutionRecord, error)
	ListBefore(ctx context.Context, before time.Time, limit int) ([]ExecutionRecord, error)
	DeleteBefore(ctx context.Context, before time.Time) (int64, error)
}
