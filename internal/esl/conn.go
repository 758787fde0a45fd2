package esl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"parley/internal/domain"
)

const (
	handshakeTimeout = 5 * time.Second
	eventBuffer      = 64

	// commandTimeout bounds every command round trip. Wide enough for
	// originate, which blocks until the far end answers or setup fails.
	commandTimeout = 45 * time.Second
)

var errDisconnected = errors.New("platform closed the control channel")

// Conn is one persistent control-channel session. A single read loop
// demultiplexes incoming frames into command replies, delivered to the
// caller currently waiting, and asynchronous events, delivered to
// Events().
type Conn struct {
	addr string
	c    net.Conn
	r    *bufio.Reader

	writeMu sync.Mutex
	cmdMu   sync.Mutex
	events  chan domain.Event

	// pending is the reply channel of the command currently in flight,
	// nil when none is. A caller that gives up on its wait unregisters
	// itself, so a late reply is discarded by the read loop instead of
	// being handed to the next command on the session.
	pendingMu sync.Mutex
	pending   chan *frame

	done      chan struct{}
	closeOnce sync.Once

	errMu sync.Mutex
	err   error

	logger *zap.Logger
}

func newConn(raw net.Conn, addr string, logger *zap.Logger) *Conn {
	return &Conn{
		addr:   addr,
		c:      raw,
		r:      bufio.NewReader(raw),
		events: make(chan domain.Event, eventBuffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Dial opens an authenticated session to the signaling platform.
func Dial(ctx context.Context, host string, port int, password string, logger *zap.Logger) (*Conn, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	dialer := net.Dialer{Timeout: handshakeTimeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, &domain.ConnectionError{Addr: addr, Err: err}
	}

	c := newConn(raw, addr, logger)
	if err := c.authenticate(password); err != nil {
		_ = raw.Close()
		return nil, &domain.ConnectionError{Addr: addr, Err: err}
	}

	go c.readLoop()
	return c, nil
}

// Attach adopts an inbound connection the platform opened toward the
// dispatcher, acknowledges it, and subscribes to this call's events.
// The returned headers carry the call metadata (id, caller identity).
func Attach(ctx context.Context, raw net.Conn, logger *zap.Logger) (*Conn, map[string]string, error) {
	addr := raw.RemoteAddr().String()
	c := newConn(raw, addr, logger)

	deadline := time.Now().Add(handshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = raw.SetDeadline(deadline)

	if err := c.write("connect"); err != nil {
		return nil, nil, &domain.ConnectionError{Addr: addr, Err: err}
	}
	info, err := readFrame(c.r)
	if err != nil {
		return nil, nil, &domain.ConnectionError{Addr: addr, Err: err}
	}

	if err := c.write("myevents plain"); err != nil {
		return nil, nil, &domain.ConnectionError{Addr: addr, Err: err}
	}
	reply, err := readFrame(c.r)
	if err != nil {
		return nil, nil, &domain.ConnectionError{Addr: addr, Err: err}
	}
	if !strings.HasPrefix(reply.replyText(), "+OK") {
		return nil, nil, &domain.ConnectionError{Addr: addr, Err: fmt.Errorf("event subscription refused: %s", reply.replyText())}
	}

	_ = raw.SetDeadline(time.Time{})

	headers := make(map[string]string, len(info.headers))
	for key, value := range info.headers {
		headers[key] = decodeHeaderValue(value)
	}

	go c.readLoop()
	return c, headers, nil
}

func (c *Conn) authenticate(password string) error {
	_ = c.c.SetDeadline(time.Now().Add(handshakeTimeout))
	defer func() { _ = c.c.SetDeadline(time.Time{}) }()

	greeting, err := readFrame(c.r)
	if err != nil {
		return err
	}
	if greeting.contentType() != "auth/request" {
		return fmt.Errorf("unexpected greeting %q", greeting.contentType())
	}

	if err := c.write("auth " + password); err != nil {
		return err
	}
	reply, err := readFrame(c.r)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(reply.replyText(), "+OK") {
		return fmt.Errorf("authentication refused: %s", reply.replyText())
	}
	return nil
}

func (c *Conn) write(raw string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_, err := c.c.Write([]byte(raw + "\n\n"))
	return err
}

// API issues a synchronous command and returns the platform's reply body.
func (c *Conn) API(ctx context.Context, cmd Command) (string, error) {
	return c.sendRecv(ctx, "api "+cmd.Build())
}

// EnableEvents subscribes the session to the named events, or to all
// events when none are given.
func (c *Conn) EnableEvents(ctx context.Context, names ...string) error {
	spec := "ALL"
	if len(names) > 0 {
		spec = strings.Join(names, " ")
	}
	reply, err := c.sendRecv(ctx, "event plain "+spec)
	if err != nil {
		return err
	}
	if !strings.HasPrefix(reply, "+OK") {
		return fmt.Errorf("event subscription refused: %s", reply)
	}
	return nil
}

// Execute runs a dialplan application on an attached inbound call leg.
func (c *Conn) Execute(ctx context.Context, callID string, app string, arg string) error {
	cmd, err := SendMsgExecute(callID, app, arg)
	if err != nil {
		return err
	}
	reply, err := c.sendRecv(ctx, cmd.Build())
	if err != nil {
		return err
	}
	if !strings.HasPrefix(reply, "+OK") {
		return fmt.Errorf("%s refused: %s", app, reply)
	}
	return nil
}

func (c *Conn) sendRecv(ctx context.Context, raw string) (string, error) {
	c.cmdMu.Lock()
	defer c.cmdMu.Unlock()

	waiter := make(chan *frame, 1)
	c.pendingMu.Lock()
	c.pending = waiter
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		if c.pending == waiter {
			c.pending = nil
		}
		c.pendingMu.Unlock()
	}()

	if err := c.write(raw); err != nil {
		c.fail(err)
		return "", &domain.ConnectionError{Addr: c.addr, Err: err}
	}

	timer := time.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case f := <-waiter:
		if f.contentType() == "api/response" {
			return strings.TrimSpace(string(f.body)), nil
		}
		return f.replyText(), nil
	case <-timer.C:
		return "", domain.ErrTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.done:
		return "", &domain.ConnectionError{Addr: c.addr, Err: c.Err()}
	}
}

// Events is the stream of demultiplexed platform events. Closed when the
// session terminates.
func (c *Conn) Events() <-chan domain.Event {
	return c.events
}

// Err returns the first error that terminated the session, if any.
func (c *Conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close tears the session down. Idempotent.
func (c *Conn) Close() error {
	c.fail(nil)
	return nil
}

func (c *Conn) fail(err error) {
	if err != nil {
		c.errMu.Lock()
		if c.err == nil {
			c.err = err
		}
		c.errMu.Unlock()
	}
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.c.Close()
	})
}

func (c *Conn) readLoop() {
	defer close(c.events)

	for {
		f, err := readFrame(c.r)
		if err != nil {
			select {
			case <-c.done:
			default:
				c.logger.Debug("control channel read failed", zap.Error(err))
			}
			c.fail(err)
			return
		}

		switch f.contentType() {
		case "command/reply", "api/response":
			c.pendingMu.Lock()
			waiter := c.pending
			c.pending = nil
			c.pendingMu.Unlock()
			if waiter == nil {
				c.logger.Warn("discarding reply with no waiting command",
					zap.String("content_type", f.contentType()))
				continue
			}
			waiter <- f
		case "text/event-plain":
			event, ok := parseEvent(f.body)
			if !ok {
				continue
			}
			c.deliver(event)
		case "text/disconnect-notice":
			c.fail(errDisconnected)
			return
		}
	}
}

// deliver never blocks the read loop: when the buffer is full the oldest
// event is dropped so newer ones, hangups included, still get through.
func (c *Conn) deliver(event domain.Event) {
	for {
		select {
		case c.events <- event:
			return
		default:
		}
		select {
		case dropped := <-c.events:
			c.logger.Warn("event buffer full, dropping oldest",
				zap.String("dropped", dropped.Name),
				zap.String("call_id", dropped.CallID))
		default:
		}
	}
}
