// Package client implements the A2A protocol client: JSON-RPC 2.0 over
// HTTP for the unary message/send method and Server-Sent Events for the
// streamed message/stream method, per spec.md §6.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/orc-run/agentmesh/internal/a2a/pool"
	"github.com/orc-run/agentmesh/internal/a2a/retry"
	"github.com/orc-run/agentmesh/internal/a2a/types"
	"github.com/orc-run/agentmesh/internal/telemetry"
)

// Client is an A2A protocol client bound to a single remote agent endpoint.
type Client struct {
	endpoint    string
	pool        *pool.Pool
	retryCfg    retry.Config
	streamRetry retry.Config
	headers     http.Header
	logger      telemetry.Logger
	reqSeq      uint64
}

// Option configures a Client.
type Option func(*Client)

// WithHeader adds a static header sent with every request (e.g. an
// Authorization bearer token, or a policy header from internal/a2a/policy).
func WithHeader(name, value string) Option {
	return func(c *Client) {
		c.headers.Add(name, value)
	}
}

// WithRetryConfig overrides the retry policy used for message/send.
func WithRetryConfig(cfg retry.Config) Option {
	return func(c *Client) { c.retryCfg = cfg }
}

// WithStreamRetryConfig overrides the reconnect policy used for message/stream.
func WithStreamRetryConfig(cfg retry.Config) Option {
	return func(c *Client) { c.streamRetry = cfg }
}

// WithLogger attaches a logger for diagnostic output.
func WithLogger(l telemetry.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// New constructs a Client for the given agent endpoint, drawing its HTTP
// transport from p (shared across all clients targeting the same host).
func New(endpoint string, p *pool.Pool, opts ...Option) *Client {
	c := &Client{
		endpoint:    strings.TrimRight(endpoint, "/"),
		pool:        p,
		retryCfg:    retry.DefaultConfig(),
		streamRetry: retry.DefaultStreamConfig(),
		headers:     make(http.Header),
		logger:      telemetry.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) nextID() string {
	return fmt.Sprintf("req-%d", atomic.AddUint64(&c.reqSeq, 1))
}

func (c *Client) do(ctx context.Context, env *types.Envelope) (*types.Response, error) {
	httpClient, limiter := c.pool.Acquire(c.endpoint)
	if err := limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, err
	}

	var result *types.Response
	err = retry.Do(ctx, c.retryCfg, func(ctx context.Context, attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		for k, vs := range c.headers {
			for _, v := range vs {
				req.Header.Add(k, v)
			}
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		if resp.StatusCode != http.StatusOK {
			return &retry.HTTPStatusError{StatusCode: resp.StatusCode, Message: resp.Status}
		}

		var rpcResp types.Response
		if err := json.NewDecoder(resp.Body).Decode(&rpcResp); err != nil {
			return err
		}
		if rpcResp.Error != nil {
			return &retry.RemoteError{
				Code:      rpcResp.Error.Code,
				Message:   rpcResp.Error.Message,
				Retryable: rpcResp.Error.Code == types.CodeAgentUnavailable || rpcResp.Error.Code == types.CodeTimeout,
			}
		}
		result = &rpcResp
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Send invokes the message/send unary method and decodes the result into a
// Message.
func (c *Client) Send(ctx context.Context, msg *types.Message, metadata map[string]any) (*types.Message, error) {
	env := &types.Envelope{
		JSONRPC: "2.0",
		ID:      c.nextID(),
		Method:  types.MethodMessageSend,
		Params:  &types.RequestParams{Message: msg, Metadata: metadata},
	}
	resp, err := c.do(ctx, env)
	if err != nil {
		return nil, err
	}
	var out types.Message
	if err := json.Unmarshal(resp.Result, &out); err != nil {
		return nil, fmt.Errorf("decode message/send result: %w", err)
	}
	return &out, nil
}

// Stream invokes the message/stream method and delivers each decoded Event
// to the returned channel. The channel is closed when the stream ends: on a
// final event, when the server closes the body without one, on ctx
// cancellation, on a non-retryable error, or after reconnect attempts are
// exhausted. Stream reconnects automatically on a retryable error (per
// retry.IsRetryable), resuming from the last seen event ID when the remote
// sends one.
func (c *Client) Stream(ctx context.Context, msg *types.Message, metadata map[string]any) (<-chan *types.Event, error) {
	out := make(chan *types.Event)
	state := &retry.StreamState{}

	go func() {
		defer close(out)
		err := retry.Do(ctx, c.streamRetry, func(ctx context.Context, attempt int) error {
			return c.streamOnce(ctx, msg, metadata, state, out)
		})
		if err != nil && c.logger != nil {
			c.logger.Warn(ctx, "a2a stream ended", "endpoint", c.endpoint, "error", err.Error())
		}
	}()

	return out, nil
}

func (c *Client) streamOnce(ctx context.Context, msg *types.Message, metadata map[string]any, state *retry.StreamState, out chan<- *types.Event) error {
	httpClient, limiter := c.pool.Acquire(c.endpoint)
	if err := limiter.Wait(ctx); err != nil {
		return err
	}

	env := &types.Envelope{
		JSONRPC: "2.0",
		ID:      c.nextID(),
		Method:  types.MethodMessageStream,
		Params:  &types.RequestParams{Message: msg, Metadata: metadata},
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	if state.LastEventID != "" {
		req.Header.Set("Last-Event-ID", state.LastEventID)
	}
	for k, vs := range c.headers {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return &retry.HTTPStatusError{StatusCode: resp.StatusCode, Message: resp.Status}
	}

	state.Reset()
	return decodeSSE(ctx, resp, state, out)
}

// decodeSSE reads a text/event-stream body and emits a decoded *types.Event
// per "data:" line onto out. It returns nil once a final event is observed.
// A read error is returned as is (the caller reconnects if
// retry.IsRetryable accepts it); a body that ends without a final event
// returns an error that is not retried, ending the stream.
func decodeSSE(ctx context.Context, resp *http.Response, state *retry.StreamState, out chan<- *types.Event) error {
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var dataLines []string
	flush := func() error {
		if len(dataLines) == 0 {
			return nil
		}
		payload := strings.Join(dataLines, "\n")
		dataLines = dataLines[:0]

		var ev types.Event
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return fmt.Errorf("decode sse event: %w", err)
		}
		if ev.TaskID != "" {
			state.LastEventID = ev.TaskID + ":" + uuid.NewString()
		}
		select {
		case out <- &ev:
		case <-ctx.Done():
			return ctx.Err()
		}
		if ev.Final {
			return errStreamComplete
		}
		return nil
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if err := flush(); err != nil {
				if err == errStreamComplete {
					return nil
				}
				return err
			}
		case strings.HasPrefix(line, "id:"):
			state.LastEventID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive, ignore
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	// Body closed without an explicit final event: the server ended the
	// stream, so report it without triggering a reconnect.
	return fmt.Errorf("a2a stream closed before final event")
}

var errStreamComplete = fmt.Errorf("a2a stream complete")

// HealthCheck fetches and decodes the remote agent's discovery card.
func (c *Client) HealthCheck(ctx context.Context) (*types.AgentCard, error) {
	httpClient, _ := c.pool.Acquire(c.endpoint)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/.well-known/agent-card", nil)
	if err != nil {
		return nil, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return nil, &retry.HTTPStatusError{StatusCode: resp.StatusCode, Message: resp.Status}
	}
	var card types.AgentCard
	if err := json.NewDecoder(resp.Body).Decode(&card); err != nil {
		return nil, err
	}
	return &card, nil
}
