// Package a2aserver exposes an Orchestrator as the server side of the A2A
// wire protocol, per spec.md §6: JSON-RPC 2.0 over HTTP for message/send,
// Server-Sent Events for message/stream, and a GET /.well-known/agent-card
// health/discovery probe. It is the inbound counterpart to
// internal/a2a/client.Client, and mirrors that package's envelope shapes so
// one orchestratord can both call and be called by other agents.
package a2aserver

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/orc-run/agentmesh/internal/a2a/types"
	"github.com/orc-run/agentmesh/internal/formatter"
	"github.com/orc-run/agentmesh/internal/orchestrator"
	"github.com/orc-run/agentmesh/internal/telemetry"
)

// Server adapts an *orchestrator.Orchestrator to HTTP.
type Server struct {
	orch   *orchestrator.Orchestrator
	card   *types.AgentCard
	logger telemetry.Logger
}

// New constructs a Server. card is served verbatim from the agent-card
// probe and never mutated.
func New(orch *orchestrator.Orchestrator, card *types.AgentCard, logger telemetry.Logger) *Server {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Server{orch: orch, card: card, logger: logger}
}

// Handler returns the HTTP routes this Server answers: the JSON-RPC
// endpoint at "/", the agent-card probe, and a UI-facing convenience
// endpoint that runs every event through the Response Formatter.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRPC)
	mux.HandleFunc("/.well-known/agent-card", s.handleAgentCard)
	mux.HandleFunc("/v1/respond", s.handleRespond)
	return mux
}

func (s *Server) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.card)
}

// handleRPC dispatches message/send and message/stream, the two methods
// spec.md §6 defines for the A2A wire protocol.
func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var env types.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeRPCError(w, "", types.CodeInvalidRequest, "malformed json-rpc envelope: "+err.Error())
		return
	}
	if env.Params == nil || env.Params.Message == nil {
		writeRPCError(w, env.ID, types.CodeInvalidRequest, "params.message is required")
		return
	}

	if sessionID, nodeID, ok := resumeTarget(env.Params); ok {
		if err := s.orch.Resume(sessionID, nodeID, env.Params.Message); err != nil {
			writeRPCError(w, env.ID, types.CodeInvalidRequest, err.Error())
			return
		}
		// The resumed node's events are delivered on the channel the
		// paused session's original message/send or message/stream call
		// returned, which this handler never sees: acknowledge the
		// resume and let the caller observe completion on that call.
		writeRPCResult(w, env.ID, json.RawMessage(`{"state":"resumed"}`))
		return
	}

	req, err := requestFromMessage(env.Params)
	if err != nil {
		writeRPCError(w, env.ID, types.CodeInvalidRequest, err.Error())
		return
	}

	switch env.Method {
	case types.MethodMessageSend:
		s.handleSend(r.Context(), w, env.ID, req)
	case types.MethodMessageStream:
		s.handleStream(r.Context(), w, env.ID, req)
	default:
		writeRPCError(w, env.ID, types.CodeMethodNotFound, "unknown method "+env.Method)
	}
}

// handleSend drains the Orchestrator's stream to its single terminal event
// and returns it as the unary JSON-RPC result, per spec.md §6.
func (s *Server) handleSend(ctx context.Context, w http.ResponseWriter, id string, req orchestrator.Request) {
	var final *types.Event
	for env := range s.orch.Stream(ctx, req) {
		if env.Event != nil && env.Event.Final {
			final = env.Event
		}
	}
	if final == nil {
		writeRPCError(w, id, types.CodeInternal, "orchestrator stream ended without a final event")
		return
	}

	result, err := json.Marshal(final)
	if err != nil {
		writeRPCError(w, id, types.CodeInternal, "encode result: "+err.Error())
		return
	}
	writeRPCResult(w, id, result)
}

// handleStream relays every node/phase Event as Server-Sent Events, one
// `data: <json>\n\n` frame per event, matching the framing
// internal/a2a/client.decodeSSE expects.
func (s *Server) handleStream(ctx context.Context, w http.ResponseWriter, id string, req orchestrator.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeRPCError(w, id, types.CodeInternal, "streaming unsupported by this transport")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	for env := range s.orch.Stream(ctx, req) {
		if env.Event == nil {
			continue
		}
		ev := *env.Event
		ev.SessionID = env.SessionID
		ev.NodeID = env.NodeID
		payload, err := json.Marshal(&ev)
		if err != nil {
			s.logger.Warn(ctx, "a2aserver: encode stream event", "error", err.Error())
			continue
		}
		if _, err := fmt.Fprintf(w, "id: %s\ndata: %s\n\n", ev.TaskID, payload); err != nil {
			return
		}
		flusher.Flush()
	}
}

// handleRespond is not part of the A2A wire protocol; it is the surface a
// product UI talks to, streaming the Response Formatter's canonical
// envelope (spec.md §4.10) instead of raw task/node Events.
func (s *Server) handleRespond(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var body struct {
		Query     string `json:"query"`
		Domain    string `json:"domain"`
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported by this transport", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)

	req := orchestrator.Request{Query: body.Query, Domain: body.Domain, SessionID: body.SessionID}
	bw := bufio.NewWriter(w)
	for env := range s.orch.Stream(r.Context(), req) {
		out := formatter.Format(env)
		payload, err := json.Marshal(out)
		if err != nil {
			s.logger.Warn(r.Context(), "a2aserver: encode formatted response", "error", err.Error())
			continue
		}
		fmt.Fprintf(bw, "data: %s\n\n", payload)
		_ = bw.Flush()
		flusher.Flush()
	}
}

// resumeTarget reports whether params carries both session_id and node_id
// metadata, identifying a follow-up call that answers a node paused in
// INPUT_REQUIRED (spec.md §8 scenario 3) rather than a new request.
func resumeTarget(params *types.RequestParams) (sessionID, nodeID string, ok bool) {
	sessionID, _ = params.Metadata["session_id"].(string)
	nodeID, _ = params.Metadata["node_id"].(string)
	return sessionID, nodeID, sessionID != "" && nodeID != ""
}

func requestFromMessage(params *types.RequestParams) (orchestrator.Request, error) {
	var query string
	for _, p := range params.Message.Parts {
		if p.Kind == types.PartKindText && p.Text != "" {
			query = p.Text
			break
		}
	}
	if query == "" {
		return orchestrator.Request{}, fmt.Errorf("message has no text part")
	}

	req := orchestrator.Request{Query: query, SessionID: params.Message.MessageID}
	if d, ok := params.Metadata["domain"].(string); ok {
		req.Domain = d
	}
	if sid, ok := params.Metadata["session_id"].(string); ok && sid != "" {
		req.SessionID = sid
	}
	return req, nil
}

func writeRPCResult(w http.ResponseWriter, id string, result json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(types.Response{JSONRPC: "2.0", ID: id, Result: result})
}

func writeRPCError(w http.ResponseWriter, id string, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(types.Response{JSONRPC: "2.0", ID: id, Error: &types.RPCError{Code: code, Message: message}})
}
