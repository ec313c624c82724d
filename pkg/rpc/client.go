package rpc

import (
	"context"
	"fmt"
	"sync/atomic"
)

// Caller issues a request to a named service and waits for the paired
// response. Timeouts are the caller's responsibility via ctx; the
// dispatch layer itself never cancels an in-flight handler.
type Caller interface {
	Request(ctx context.Context, service string, req Payload) (*Message, error)
	Close() error
}

// Call issues a typed request and decodes the typed response
func Call[Req Payload, Res Payload](ctx context.Context, c Caller, service string, req Req) (Res, error) {
	var res Res

	msg, err := c.Request(ctx, service, req)
	if err != nil {
		return res, err
	}
	if want := res.MessageType(); msg.Type != want {
		return res, fmt.Errorf("rpc: expected %s response, got %s", want, msg.Type)
	}
	if err := msg.Decode(&res); err != nil {
		return res, fmt.Errorf("rpc: failed to decode %s: %w", msg.Type, err)
	}
	return res, nil
}

// LocalClient routes requests straight into a System in the same
// process. Used by tests and by single-process deployments.
type LocalClient struct {
	system *System
	nextID atomic.Uint64
}

// NewLocalClient creates a caller bound to an in-process System
func NewLocalClient(system *System) *LocalClient {
	return &LocalClient{system: system}
}

// Request routes the message into the system and waits for the
// response. A silently dropped task never produces a response; callers
// bound the wait through ctx.
func (c *LocalClient) Request(ctx context.Context, service string, req Payload) (*Message, error) {
	msg, err := NewMessage(req)
	if err != nil {
		return nil, err
	}

	messageID := c.nextID.Add(1)
	respCh := make(chan *Message, 1)

	c.system.AddTask(func(id uint64, res *Message) {
		if id == messageID {
			respCh <- res
		}
	}, service, messageID, msg)

	select {
	case res := <-respCh:
		return res, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close implements Caller; a LocalClient holds no resources
func (c *LocalClient) Close() error {
	return nil
}
