package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/rep"
	"go.nanomsg.org/mangos/v3/protocol/req"

	// Register all transports
	_ "go.nanomsg.org/mangos/v3/transport/all"

	"github.com/dd0wney/cluso-cluster/pkg/logging"
)

// Listener binds a rep socket and feeds inbound envelopes into a
// System. Each protocol context serves one outstanding request at a
// time; parallelism comes from opening several contexts over the same
// socket.
type Listener struct {
	sock   mangos.Socket
	system *System
	logger logging.Logger

	// replyWait bounds how long a context waits for the dispatched
	// handler before abandoning the exchange (the silent-drop path
	// produces no response at all).
	replyWait time.Duration

	contexts  []mangos.Context
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// ListenConfig controls the network listener
type ListenConfig struct {
	Addr      string
	Parallel  int
	ReplyWait time.Duration
}

// NewListener binds addr and starts serving requests into the system
func NewListener(cfg ListenConfig, system *System, logger logging.Logger) (*Listener, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	if cfg.Parallel <= 0 {
		cfg.Parallel = 8
	}
	if cfg.ReplyWait <= 0 {
		cfg.ReplyWait = 30 * time.Second
	}

	sock, err := rep.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to open rep socket: %w", err)
	}
	if err := sock.Listen(cfg.Addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Addr, err)
	}

	l := &Listener{
		sock:      sock,
		system:    system,
		logger:    logger.With(logging.Component("rpc-listener")),
		replyWait: cfg.ReplyWait,
	}

	for i := 0; i < cfg.Parallel; i++ {
		c, err := sock.OpenContext()
		if err != nil {
			l.Close()
			return nil, fmt.Errorf("failed to open socket context: %w", err)
		}
		l.contexts = append(l.contexts, c)
		l.wg.Add(1)
		go l.serve(c)
	}
	return l, nil
}

func (l *Listener) serve(c mangos.Context) {
	defer l.wg.Done()

	for {
		data, err := c.Recv()
		if err != nil {
			// Closed socket or context; either way this context is done.
			return
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			l.logger.Warn("discarding malformed envelope", logging.Error(err))
			continue
		}

		respCh := make(chan *Message, 1)
		l.system.AddTask(func(id uint64, res *Message) {
			respCh <- res
		}, env.Service, env.MessageID, env.Message)

		select {
		case res := <-respCh:
			out, err := json.Marshal(Envelope{
				Service:   env.Service,
				MessageID: env.MessageID,
				Message:   res,
			})
			if err != nil {
				l.logger.Error("failed to encode response", logging.Error(err))
				continue
			}
			if err := c.Send(out); err != nil {
				l.logger.Warn("send failed", logging.Error(err))
				return
			}
		case <-time.After(l.replyWait):
			// The task was dropped or the handler is stuck; abandon the
			// exchange so the context can serve the next request.
			l.logger.Warn("abandoning request with no response",
				logging.Service(env.Service),
				logging.MessageType(env.Message.Type.String()))
		}
	}
}

// Close shuts the listener down and joins its serving goroutines
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		for _, c := range l.contexts {
			c.Close()
		}
		err = l.sock.Close()
		l.wg.Wait()
	})
	return err
}

// NetClient issues requests over a req socket
type NetClient struct {
	sock   mangos.Socket
	nextID atomic.Uint64
}

// Dial connects a client to a listener address
func Dial(addr string) (*NetClient, error) {
	sock, err := req.NewSocket()
	if err != nil {
		return nil, fmt.Errorf("failed to open req socket: %w", err)
	}
	if err := sock.Dial(addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	return &NetClient{sock: sock}, nil
}

// Request sends one request envelope and waits for its response
func (c *NetClient) Request(ctx context.Context, service string, payload Payload) (*Message, error) {
	msg, err := NewMessage(payload)
	if err != nil {
		return nil, err
	}

	sctx, err := c.sock.OpenContext()
	if err != nil {
		return nil, fmt.Errorf("failed to open socket context: %w", err)
	}
	defer sctx.Close()

	if deadline, ok := ctx.Deadline(); ok {
		if err := sctx.SetOption(mangos.OptionRecvDeadline, time.Until(deadline)); err != nil {
			return nil, err
		}
		if err := sctx.SetOption(mangos.OptionSendDeadline, time.Until(deadline)); err != nil {
			return nil, err
		}
	}

	out, err := json.Marshal(Envelope{
		Service:   service,
		MessageID: c.nextID.Add(1),
		Message:   msg,
	})
	if err != nil {
		return nil, err
	}
	if err := sctx.Send(out); err != nil {
		return nil, fmt.Errorf("send failed: %w", err)
	}

	data, err := sctx.Recv()
	if err != nil {
		return nil, fmt.Errorf("receive failed: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed response envelope: %w", err)
	}
	return env.Message, nil
}

// Close closes the client socket
func (c *NetClient) Close() error {
	return c.sock.Close()
}
