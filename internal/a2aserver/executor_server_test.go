package a2aserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orc-run/agentmesh/internal/a2a/executor"
	"github.com/orc-run/agentmesh/internal/a2a/types"
)

func echoAgentFunc(_ context.Context, _ string, msg *types.Message, sink chan<- *types.Event) error {
	var text string
	for _, p := range msg.Parts {
		if p.Kind == types.PartKindText {
			text = p.Text
		}
	}
	sink <- &types.Event{Type: types.EventStreamingResponse, Parts: []*types.Part{{Kind: types.PartKindText, Text: "echo: " + text}}}
	return nil
}

func newTestExecutorServer() *ExecutorServer {
	exec := executor.New(echoAgentFunc, nil, nil)
	card := &types.AgentCard{AgentID: "echoagent", Name: "echo", Tier: 2, Capabilities: []string{"echo"}, Status: "healthy"}
	return NewExecutorServer(exec, card, nil)
}

func TestExecutorServerMessageSendReturnsFinalEvent(t *testing.T) {
	srv := newTestExecutorServer()

	env := types.Envelope{
		JSONRPC: "2.0",
		ID:      "r1",
		Method:  types.MethodMessageSend,
		Params: &types.RequestParams{
			Message: &types.Message{Role: "user", Parts: []*types.Part{{Kind: types.PartKindText, Text: "hi there"}}},
		},
	}
	body, err := json.Marshal(env)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body)))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	var resp types.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Nil(t, resp.Error)

	var ev types.Event
	require.NoError(t, json.Unmarshal(resp.Result, &ev))
	assert.True(t, ev.Final)
}

func TestExecutorServerAgentCardServesCapabilities(t *testing.T) {
	srv := newTestExecutorServer()
	req := httptest.NewRequest(http.MethodGet, "/.well-known/agent-card", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	var card types.AgentCard
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &card))
	assert.Equal(t, []string{"echo"}, card.Capabilities)
}

func TestExecutorServerRejectsMissingMessage(t *testing.T) {
	srv := newTestExecutorServer()
	env := types.Envelope{JSONRPC: "2.0", ID: "r2", Method: types.MethodMessageSend}
	body, err := json.Marshal(env)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(string(body)))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	var resp types.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, types.CodeInvalidRequest, resp.Error.Code)
}
