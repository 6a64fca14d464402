// Package interrupt provides pause/resume/cancel signaling for a
// in-flight workflow level, mirroring the teacher's Temporal-signal-backed
// Controller but over plain Go channels, since spec.md's Non-goals exclude
// durable cross-restart workflow persistence.
package interrupt

import (
	"context"
	"errors"
	"sync"

	"github.com/orc-run/agentmesh/internal/a2a/types"
)

// PauseRequest carries metadata attached to an operator-initiated pause.
type PauseRequest struct {
	SessionID   string
	Reason      string
	RequestedBy string
}

// ResumeRequest carries the answer to a single node paused in
// INPUT_REQUIRED, keyed by the node ID that requested it.
type ResumeRequest struct {
	NodeID string
	Answer *types.Message
}

// Controller drains pause/resume/cancel requests for one session's
// in-flight runner level. Unlike the teacher's Temporal-signal Controller,
// every channel here is process-local and closed on session teardown.
type Controller struct {
	mu       sync.Mutex
	pauseCh  chan PauseRequest
	resumeCh chan ResumeRequest
	cancelCh chan struct{}
	closed   bool
}

// NewController constructs a Controller with buffered signal channels —
// unbuffered would force callers to race a goroutine receive, which a
// plain HTTP handler delivering a resume call cannot do.
func NewController() *Controller {
	return &Controller{
		pauseCh:  make(chan PauseRequest, 1),
		resumeCh: make(chan ResumeRequest, 8),
		cancelCh: make(chan struct{}),
	}
}

// Pause enqueues a pause request. Non-blocking: a second Pause before the
// first is observed overwrites it, matching "pause" being a level, not an
// edge-triggered event.
func (c *Controller) Pause(req PauseRequest) {
	select {
	case c.pauseCh <- req:
	default:
		select {
		case <-c.pauseCh:
		default:
		}
		select {
		case c.pauseCh <- req:
		default:
		}
	}
}

// PollPause attempts to dequeue a pause request without blocking.
func (c *Controller) PollPause() (PauseRequest, bool) {
	select {
	case req := <-c.pauseCh:
		return req, true
	default:
		return PauseRequest{}, false
	}
}

// Resume delivers an answer for a node paused in INPUT_REQUIRED.
func (c *Controller) Resume(req ResumeRequest) error {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return errors.New("interrupt: controller closed")
	}
	select {
	case c.resumeCh <- req:
		return nil
	default:
		return errors.New("interrupt: resume channel full")
	}
}

// WaitResume blocks until a resume request naming nodeID arrives or ctx is
// canceled. Resume requests for other node IDs are re-queued.
func (c *Controller) WaitResume(ctx context.Context, nodeID string) (ResumeRequest, error) {
	var requeue []ResumeRequest
	defer func() {
		for _, r := range requeue {
			select {
			case c.resumeCh <- r:
			default:
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return ResumeRequest{}, ctx.Err()
		case <-c.cancelCh:
			return ResumeRequest{}, errors.New("interrupt: controller cancelled")
		case req := <-c.resumeCh:
			if req.NodeID == nodeID {
				return req, nil
			}
			requeue = append(requeue, req)
		}
	}
}

// Cancel signals every waiter to abort.
func (c *Controller) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.cancelCh)
}

// Done returns a channel closed when Cancel has been called.
func (c *Controller) Done() <-chan struct{} {
	return c.cancelCh
}
