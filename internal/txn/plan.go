package txn

import (
	"github.com/txngate/txngate/internal/domain/models"
)

// PlanKind classifies how an operation participates in a transaction
type PlanKind string

const (
	// PlanJoinExisting attaches the operation to the caller's transaction
	PlanJoinExisting PlanKind = "join_existing"

	// PlanBeginNew starts a transaction owned by this operation
	PlanBeginNew PlanKind = "begin_new"

	// PlanRunWithout executes the operation untransacted
	PlanRunWithout PlanKind = "run_without"
)

// Plan is the effective transaction decision for one operation.
type Plan struct {
	Kind PlanKind

	// ID is set only for PlanJoinExisting.
	ID models.TransactionID
}
