//go:build zmq
// +build zmq

package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	zmq "github.com/pebbe/zmq4"

	"github.com/dd0wney/cluso-cluster/pkg/logging"
)

// ZMQListener is the ZeroMQ rendition of the network listener. A single
// REP socket serves requests sequentially; dispatch still happens on
// the service worker pool, but the socket waits for each response
// before accepting the next request.
type ZMQListener struct {
	sock      *zmq.Socket
	system    *System
	logger    logging.Logger
	replyWait time.Duration

	stopCh    chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewZMQListener binds addr and starts serving requests into the system
func NewZMQListener(addr string, system *System, logger logging.Logger) (*ZMQListener, error) {
	if logger == nil {
		logger = logging.NewNopLogger()
	}

	sock, err := zmq.NewSocket(zmq.REP)
	if err != nil {
		return nil, fmt.Errorf("failed to open REP socket: %w", err)
	}
	if err := sock.Bind(addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to bind %s: %w", addr, err)
	}
	if err := sock.SetRcvtimeo(100 * time.Millisecond); err != nil {
		sock.Close()
		return nil, err
	}

	l := &ZMQListener{
		sock:      sock,
		system:    system,
		logger:    logger.With(logging.Component("rpc-zmq-listener")),
		replyWait: 30 * time.Second,
		stopCh:    make(chan struct{}),
	}
	l.wg.Add(1)
	go l.serve()
	return l, nil
}

func (l *ZMQListener) serve() {
	defer l.wg.Done()

	for {
		select {
		case <-l.stopCh:
			return
		default:
		}

		data, err := l.sock.RecvBytes(0)
		if err != nil {
			// Receive timeout; poll the stop channel again.
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			l.logger.Warn("discarding malformed envelope", logging.Error(err))
			l.sock.SendBytes([]byte("{}"), 0)
			continue
		}

		respCh := make(chan *Message, 1)
		l.system.AddTask(func(id uint64, res *Message) {
			respCh <- res
		}, env.Service, env.MessageID, env.Message)

		var res *Message
		select {
		case res = <-respCh:
		case <-time.After(l.replyWait):
			l.logger.Warn("abandoning request with no response",
				logging.Service(env.Service))
		}

		out, err := json.Marshal(Envelope{
			Service:   env.Service,
			MessageID: env.MessageID,
			Message:   res,
		})
		if err != nil {
			out = []byte("{}")
		}
		// REP sockets must answer before the next receive.
		if _, err := l.sock.SendBytes(out, 0); err != nil {
			l.logger.Warn("send failed", logging.Error(err))
		}
	}
}

// Close stops the serving loop and closes the socket
func (l *ZMQListener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.stopCh)
		l.wg.Wait()
		err = l.sock.Close()
	})
	return err
}

// ZMQClient issues requests over a REQ socket. REQ sockets alternate
// send/receive, so requests are serialized per client.
type ZMQClient struct {
	mu     sync.Mutex
	sock   *zmq.Socket
	nextID atomic.Uint64
}

// DialZMQ connects a client to a ZMQ listener address
func DialZMQ(addr string) (*ZMQClient, error) {
	sock, err := zmq.NewSocket(zmq.REQ)
	if err != nil {
		return nil, fmt.Errorf("failed to open REQ socket: %w", err)
	}
	if err := sock.Connect(addr); err != nil {
		sock.Close()
		return nil, fmt.Errorf("failed to connect %s: %w", addr, err)
	}
	return &ZMQClient{sock: sock}, nil
}

// Request sends one request envelope and waits for its response
func (c *ZMQClient) Request(ctx context.Context, service string, payload Payload) (*Message, error) {
	msg, err := NewMessage(payload)
	if err != nil {
		return nil, err
	}
	out, err := json.Marshal(Envelope{
		Service:   service,
		MessageID: c.nextID.Add(1),
		Message:   msg,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		if err := c.sock.SetRcvtimeo(time.Until(deadline)); err != nil {
			return nil, err
		}
	}

	if _, err := c.sock.SendBytes(out, 0); err != nil {
		return nil, fmt.Errorf("send failed: %w", err)
	}
	data, err := c.sock.RecvBytes(0)
	if err != nil {
		return nil, fmt.Errorf("receive failed: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed response envelope: %w", err)
	}
	if env.Message == nil {
		return nil, fmt.Errorf("empty response")
	}
	return env.Message, nil
}

// Close closes the client socket
func (c *ZMQClient) Close() error {
	return c.sock.Close()
}
