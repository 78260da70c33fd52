package commitment

import "dealflow/internal/models"

// Action is an admin-initiated operation on a commitment.
type Action string

const (
	ActionFund     Action = "fund"
	ActionComplete Action = "complete"
	ActionCancel   Action = "cancel"
	ActionFlag     Action = "flag"
)

// ParseAction validates an action string from the transport layer.
func ParseAction(s string) (Action, bool) {
	switch Action(s) {
	case ActionFund, ActionComplete, ActionCancel, ActionFlag:
		return Action(s), true
	}
	return "", false
}

// transitions is the single source of truth for legal status changes.
// Completed and cancelled are terminal.
var transitions = map[models.CommitmentStatus][]models.CommitmentStatus{
	models.CommitmentDraft:     {models.CommitmentCommitted, models.CommitmentCancelled},
	models.CommitmentCommitted: {models.CommitmentFunded, models.CommitmentCancelled},
	models.CommitmentFunded:    {models.CommitmentCompleted, models.CommitmentCancelled},
	models.CommitmentCompleted: {},
	models.CommitmentCancelled: {},
}

// CanTransition reports whether from→to is in the transition table. The
// escrow reconciler consults this too, so webhook-driven transitions obey
// the same rules as admin ones.
func CanTransition(from, to models.CommitmentStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ListScope selects which commitments a caller may see.
type ListScope struct {
	Role   string
	UserID uint
	Global bool // admins only: request the unscoped view
	Offset int
	Limit  int
}
