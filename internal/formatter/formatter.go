// Package formatter implements the Response Formatter: it normalizes the
// heterogeneous Events an Orchestrator run produces into the canonical
// envelope spec.md §4.10 defines for the outgoing stream. Consumers at the
// transport edge (SSE, the A2A server) only ever need to marshal Envelope,
// never the underlying Event tagged union.
package formatter

import (
	"github.com/orc-run/agentmesh/internal/a2a/types"
	"github.com/orc-run/agentmesh/internal/orchestrator"
)

// PartKind mirrors types.PartKindText/PartKindData for the outgoing
// envelope's parts, kept distinct from the wire type so callers never need
// to import internal/a2a/types just to read a formatted response.
type PartKind string

const (
	PartText PartKind = "text"
	PartData PartKind = "data"
)

// Part is one content part of an Envelope or Artifact.
type Part struct {
	Kind    PartKind `json:"kind"`
	Content any      `json:"content"`
}

// Artifact is a named output, carried verbatim from an ArtifactUpdate
// Event.
type Artifact struct {
	Name  string `json:"name"`
	Parts []Part `json:"parts"`
}

// Metadata accompanies every Envelope with the phase that produced it and,
// where applicable, the originating node id and an input-required flag.
type Metadata struct {
	Phase         string `json:"phase"`
	NodeID        string `json:"node_id,omitempty"`
	Quality       string `json:"quality,omitempty"`
	InputRequired bool   `json:"input_required,omitempty"`
}

// Envelope is the canonical response shape spec.md §4.10 mandates:
// {final, parts, artifacts, metadata}.
type Envelope struct {
	Final     bool       `json:"final"`
	Parts     []Part     `json:"parts,omitempty"`
	Artifacts []Artifact `json:"artifacts,omitempty"`
	Metadata  Metadata   `json:"metadata"`
}

func partsFromWire(wire []*types.Part) []Part {
	if len(wire) == 0 {
		return nil
	}
	out := make([]Part, 0, len(wire))
	for _, p := range wire {
		if p == nil {
			continue
		}
		switch p.Kind {
		case types.PartKindData:
			out = append(out, Part{Kind: PartData, Content: p.Data})
		default:
			out = append(out, Part{Kind: PartText, Content: p.Text})
		}
	}
	return out
}

// Format applies spec.md §4.10's per-EventType rules to one Envelope from
// the Orchestrator's merged stream, producing the canonical Envelope:
//   - StreamingResponse maps its Parts directly.
//   - ArtifactUpdate becomes an artifact entry (no parts of its own).
//   - StatusUpdate produces a single human-readable text part.
//   - Error produces a final envelope carrying the error as a text part.
//   - InputRequired produces a non-final envelope flagged input_required.
func Format(env orchestrator.Envelope) Envelope {
	ev := env.Event
	meta := Metadata{Phase: string(env.Phase), NodeID: env.NodeID}

	if ev == nil {
		return Envelope{Metadata: meta}
	}

	out := Envelope{Final: ev.Final, Metadata: meta}

	switch ev.Type {
	case types.EventStreamingResponse:
		out.Parts = partsFromWire(ev.Parts)

	case types.EventArtifactUpdate:
		if ev.Artifact != nil {
			out.Artifacts = []Artifact{{
				Name:  ev.Artifact.Name,
				Parts: partsFromWire(ev.Artifact.Parts),
			}}
		}

	case types.EventStatusUpdate:
		out.Parts = []Part{{Kind: PartText, Content: ev.Message}}

	case types.EventError:
		out.Final = true
		out.Parts = []Part{{Kind: PartText, Content: errorMessage(ev)}}

	case types.EventInputRequired:
		out.Final = false
		out.Metadata.InputRequired = true
		out.Parts = []Part{{Kind: PartText, Content: ev.Prompt}}
	}

	return out
}

func errorMessage(ev *types.Event) string {
	if ev.ErrorDetail != "" {
		return ev.ErrorKind + ": " + ev.ErrorDetail
	}
	return ev.ErrorKind
}
