package orchestrator

import (
	"fmt"

	"github.com/orc-run/agentmesh/internal/a2a/types"
)

// statusEvent builds a StatusUpdate Event carrying a human-readable message,
// used for the planning-phase status events spec.md §4.8 describes.
func statusEvent(taskID, state, message string) *types.Event {
	return &types.Event{
		Type:    types.EventStatusUpdate,
		TaskID:  taskID,
		State:   state,
		Message: message,
	}
}

// errorEvent builds a final Error Event.
func errorEvent(taskID, kind, detail string, recoverable bool) *types.Event {
	return &types.Event{
		Type:        types.EventError,
		TaskID:      taskID,
		Final:       true,
		ErrorKind:   kind,
		ErrorDetail: detail,
		Recoverable: recoverable,
	}
}

// nodeSummary renders a one-line journal summary for a node event.
func nodeSummary(ev *types.Event) string {
	switch ev.Type {
	case types.EventError:
		return fmt.Sprintf("error: %s", ev.ErrorDetail)
	case types.EventStatusUpdate:
		return fmt.Sprintf("status %s: %s", ev.State, ev.Message)
	case types.EventArtifactUpdate:
		name := ""
		if ev.Artifact != nil {
			name = ev.Artifact.Name
		}
		return "artifact: " + name
	case types.EventInputRequired:
		return "input required: " + ev.Prompt
	default:
		return "response received"
	}
}
