package esl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"parley/internal/domain"
)

// scriptedPlatform plays the softswitch side of the socket protocol.
type scriptedPlatform struct {
	t    *testing.T
	ln   net.Listener
	conn net.Conn
	r    *bufio.Reader
}

func newScriptedPlatform(t *testing.T) *scriptedPlatform {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen failed: %v", err)
	}
	t.Cleanup(func() { _ = ln.Close() })
	return &scriptedPlatform{t: t, ln: ln}
}

func (p *scriptedPlatform) hostPort() (string, int) {
	addr := p.ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

func (p *scriptedPlatform) accept() {
	conn, err := p.ln.Accept()
	if err != nil {
		p.t.Errorf("accept failed: %v", err)
		return
	}
	p.conn = conn
	p.r = bufio.NewReader(conn)
}

func (p *scriptedPlatform) send(raw string) {
	if _, err := p.conn.Write([]byte(raw)); err != nil {
		p.t.Errorf("platform write failed: %v", err)
	}
}

func (p *scriptedPlatform) sendEvent(headers string) {
	p.send(fmt.Sprintf("Content-Length: %d\nContent-Type: text/event-plain\n\n%s", len(headers), headers))
}

// readCommand reads one client block up to the blank line terminator.
func (p *scriptedPlatform) readCommand() string {
	var lines []string
	for {
		line, err := p.r.ReadString('\n')
		if err != nil {
			p.t.Errorf("platform read failed: %v", err)
			return ""
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			return strings.Join(lines, "\n")
		}
		lines = append(lines, line)
	}
}

func (p *scriptedPlatform) handshake(password string) {
	p.accept()
	p.send("Content-Type: auth/request\n\n")
	got := p.readCommand()
	if got != "auth "+password {
		p.t.Errorf("unexpected auth command: %q", got)
	}
	p.send("Content-Type: command/reply\nReply-Text: +OK accepted\n\n")
}

func dialScripted(t *testing.T, p *scriptedPlatform, password string) *Conn {
	t.Helper()
	host, port := p.hostPort()
	conn, err := Dial(context.Background(), host, port, password, zap.NewNop())
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestDialAuthenticates(t *testing.T) {
	t.Parallel()

	p := newScriptedPlatform(t)
	go p.handshake("ClueCon")
	conn := dialScripted(t, p, "ClueCon")

	if conn.Err() != nil {
		t.Fatalf("unexpected session error: %v", conn.Err())
	}
}

func TestDialRefusedPassword(t *testing.T) {
	t.Parallel()

	p := newScriptedPlatform(t)
	go func() {
		p.accept()
		p.send("Content-Type: auth/request\n\n")
		p.readCommand()
		p.send("Content-Type: command/reply\nReply-Text: -ERR invalid\n\n")
	}()

	host, port := p.hostPort()
	_, err := Dial(context.Background(), host, port, "wrong", zap.NewNop())
	var connErr *domain.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected ConnectionError, got %v", err)
	}
}

func TestAPIReturnsResponseBody(t *testing.T) {
	t.Parallel()

	p := newScriptedPlatform(t)
	go func() {
		p.handshake("pw")
		got := p.readCommand()
		if got != "api uuid_exists abc" {
			p.t.Errorf("unexpected api command: %q", got)
		}
		p.send("Content-Type: api/response\nContent-Length: 4\n\ntrue")
	}()

	conn := dialScripted(t, p, "pw")
	cmd, err := UUIDExists("abc")
	if err != nil {
		t.Fatalf("command failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	reply, err := conn.API(ctx, cmd)
	if err != nil {
		t.Fatalf("api failed: %v", err)
	}
	if reply != "true" {
		t.Fatalf("unexpected reply: %q", reply)
	}
}

func TestEventsAreParsedAndDelivered(t *testing.T) {
	t.Parallel()

	p := newScriptedPlatform(t)
	go func() {
		p.handshake("pw")
		p.sendEvent("Event-Name: CHANNEL_ANSWER\nUnique-ID: call-1\nCaller-Caller-ID-Number: 15550001111\n")
	}()

	conn := dialScripted(t, p, "pw")

	select {
	case event := <-conn.Events():
		if event.Name != domain.EventChannelAnswer || event.CallID != "call-1" {
			t.Fatalf("unexpected event: %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for event")
	}
}

func TestDisconnectNoticeClosesEventStream(t *testing.T) {
	t.Parallel()

	p := newScriptedPlatform(t)
	go func() {
		p.handshake("pw")
		p.send("Content-Type: text/disconnect-notice\n\n")
	}()

	conn := dialScripted(t, p, "pw")

	select {
	case _, ok := <-conn.Events():
		if ok {
			t.Fatalf("expected closed event stream")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for stream close")
	}
	if conn.Err() == nil {
		t.Fatalf("expected session error after disconnect notice")
	}
}

func TestAttachHandshakeExtractsCallMetadata(t *testing.T) {
	t.Parallel()

	client, server := net.Pipe()
	t.Cleanup(func() { _ = client.Close(); _ = server.Close() })

	go func() {
		r := bufio.NewReader(server)
		readBlock := func() string {
			var lines []string
			for {
				line, err := r.ReadString('\n')
				if err != nil {
					return ""
				}
				line = strings.TrimRight(line, "\r\n")
				if line == "" {
					return strings.Join(lines, "\n")
				}
				lines = append(lines, line)
			}
		}

		if got := readBlock(); got != "connect" {
			t.Errorf("unexpected first command: %q", got)
		}
		_, _ = server.Write([]byte("Content-Type: command/reply\nReply-Text: +OK\nUnique-ID: call-9\nCaller-Caller-ID-Number: 15559998888\nCaller-Destination-Number: 2000\n\n"))

		if got := readBlock(); got != "myevents plain" {
			t.Errorf("unexpected second command: %q", got)
		}
		_, _ = server.Write([]byte("Content-Type: command/reply\nReply-Text: +OK Events Enabled\n\n"))
	}()

	conn, info, err := Attach(context.Background(), client, zap.NewNop())
	if err != nil {
		t.Fatalf("attach failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	if info["Unique-ID"] != "call-9" {
		t.Fatalf("unexpected call id: %q", info["Unique-ID"])
	}
	if info["Caller-Caller-ID-Number"] != "15559998888" {
		t.Fatalf("unexpected caller: %q", info["Caller-Caller-ID-Number"])
	}
}

func TestAbandonedReplyIsNotHandedToNextCommand(t *testing.T) {
	t.Parallel()

	p := newScriptedPlatform(t)
	proceed := make(chan struct{})
	go func() {
		p.handshake("pw")
		p.readCommand() // reply withheld until the caller has given up
		<-proceed
		p.send("Content-Type: api/response\nContent-Length: 4\n\ntrue")
		p.sendEvent("Event-Name: CHANNEL_ANSWER\nUnique-ID: marker\n")
		got := p.readCommand()
		if got != "api uuid_exists other" {
			p.t.Errorf("unexpected second command: %q", got)
		}
		p.send("Content-Type: api/response\nContent-Length: 5\n\nfalse")
	}()

	conn := dialScripted(t, p, "pw")

	stale, err := UUIDExists("gone")
	if err != nil {
		t.Fatalf("command failed: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := conn.API(ctx, stale); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the abandoned wait to expire, got %v", err)
	}
	close(proceed)

	// The marker event trails the stale reply on the wire, so once it
	// shows up the read loop has already discarded that reply.
	select {
	case <-conn.Events():
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for marker event")
	}

	next, err := UUIDExists("other")
	if err != nil {
		t.Fatalf("command failed: %v", err)
	}
	ctx2, cancel2 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel2()
	reply, err := conn.API(ctx2, next)
	if err != nil {
		t.Fatalf("api failed: %v", err)
	}
	if reply != "false" {
		t.Fatalf("previous command's reply leaked through: %q", reply)
	}
}
