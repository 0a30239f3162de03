// ABOUTME: Lifecycle state of a conversation derived from its soft-delete flags
// ABOUTME: Active, deleted by one participant, or purged once both have deleted it

package conversation

import "github.com/2389/coven-dm/internal/store"

// State is the deletion lifecycle of a conversation.
type State int

const (
	// StateActive means neither participant has deleted the conversation.
	StateActive State = iota
	// StateDeletedByOne means exactly one participant has deleted it.
	StateDeletedByOne
	// StatePurged means both participants deleted it. Purged conversations
	// are removed from storage, so this is only observed transiently or for nil.
	StatePurged
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateDeletedByOne:
		return "deleted_by_one"
	case StatePurged:
		return "purged"
	default:
		return "unknown"
	}
}

// StateOf derives the state of conv. A nil conversation is purged.
func StateOf(conv *store.Conversation) State {
	if conv == nil {
		return StatePurged
	}
	switch len(conv.DeletedFrom()) {
	case 0:
		return StateActive
	case 1:
		return StateDeletedByOne
	default:
		return StatePurged
	}
}
