package a2aserver

import (
	"encoding/json"
	"net/http"

	"github.com/google/uuid"

	"github.com/orc-run/agentmesh/internal/a2a/executor"
	"github.com/orc-run/agentmesh/internal/a2a/types"
	"github.com/orc-run/agentmesh/internal/telemetry"
)

// ExecutorServer exposes an *executor.Executor as the server side of the
// A2A wire protocol for a tier-2/3 specialist or service agent — the
// counterpart to Server, which does the same for the tier-1 Orchestrator.
// Every message/send and message/stream call starts a fresh task; a call
// whose metadata carries "task_id" instead resumes a task this Executor
// already paused on InputRequired.
type ExecutorServer struct {
	exec   *executor.Executor
	card   *types.AgentCard
	logger telemetry.Logger
}

// NewExecutorServer constructs an ExecutorServer around exec.
func NewExecutorServer(exec *executor.Executor, card *types.AgentCard, logger telemetry.Logger) *ExecutorServer {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &ExecutorServer{exec: exec, card: card, logger: logger}
}

// Handler returns this agent's HTTP routes.
func (s *ExecutorServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRPC)
	mux.HandleFunc("/.well-known/agent-card", s.handleAgentCard)
	return mux
}

func (s *ExecutorServer) handleAgentCard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.card)
}

func (s *ExecutorServer) handleRPC(w http.ResponseWriter, r *http.Request) {
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

	if taskID, _ := env.Params.Metadata["task_id"].(string); taskID != "" {
		if err := s.exec.Resume(taskID, env.Params.Message); err != nil {
			writeRPCError(w, env.ID, types.CodeInvalidRequest, err.Error())
			return
		}
		// The events this resume unblocks are delivered on the channel
		// from the original Start call, which this handler never sees:
		// acknowledge the resume and let the caller observe completion
		// on that original message/stream call.
		writeRPCResult(w, env.ID, json.RawMessage(`{"state":"resumed"}`))
		return
	}

	taskID := uuid.NewString()
	events := s.exec.Start(r.Context(), taskID, env.Params.Message)

	switch env.Method {
	case types.MethodMessageSend:
		s.drainToFinal(w, env.ID, events)
	case types.MethodMessageStream:
		s.relaySSE(w, events)
	default:
		writeRPCError(w, env.ID, types.CodeMethodNotFound, "unknown method "+env.Method)
	}
}

func (s *ExecutorServer) drainToFinal(w http.ResponseWriter, id string, events <-chan *types.Event) {
	var final *types.Event
	for ev := range events {
		if ev.Final {
			final = ev
		}
	}
	if final == nil {
		writeRPCError(w, id, types.CodeInternal, "task ended without a final event")
		return
	}
	result, err := json.Marshal(final)
	if err != nil {
		writeRPCError(w, id, types.CodeInternal, "encode result: "+err.Error())
		return
	}
	writeRPCResult(w, id, result)
}

func (s *ExecutorServer) relaySSE(w http.ResponseWriter, events <-chan *types.Event) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeRPCError(w, "", types.CodeInternal, "streaming unsupported by this transport")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.WriteHeader(http.StatusOK)
	for ev := range events {
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if _, err := w.Write([]byte("id: " + ev.TaskID + "\ndata: " + string(payload) + "\n\n")); err != nil {
			return
		}
		flusher.Flush()
	}
}
