package dispatch

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Handler serves one accepted control-channel connection and returns
// when the call is over. It owns the connection.
type Handler func(ctx context.Context, conn net.Conn)

// Dispatcher accepts inbound call notifications and hands each
// connection to its own goroutine. Calls share nothing, so one call
// failing cannot corrupt another's event stream.
type Dispatcher struct {
	handler Handler
	logger  *zap.Logger

	wg sync.WaitGroup
}

func New(handler Handler, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{handler: handler, logger: logger}
}

const acceptBackoff = time.Second

// Serve accepts connections until ctx is canceled or the listener is
// closed, then waits for in-flight calls to finish. Accept errors are
// retried after a short backoff so a transient fault does not kill the
// listener.
func (d *Dispatcher) Serve(ctx context.Context, listener net.Listener) error {
	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				break
			}
			d.logger.Warn("accept failed", zap.Error(err))
			select {
			case <-time.After(acceptBackoff):
				continue
			case <-ctx.Done():
			}
			break
		}

		d.wg.Add(1)
		go d.serveConn(ctx, conn)
	}

	d.wg.Wait()
	return ctx.Err()
}

func (d *Dispatcher) serveConn(ctx context.Context, conn net.Conn) {
	defer d.wg.Done()
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("call handler panicked",
				zap.Any("panic", r),
				zap.String("remote", conn.RemoteAddr().String()))
		}
	}()

	d.logger.Info("inbound connection accepted", zap.String("remote", conn.RemoteAddr().String()))
	d.handler(ctx, conn)
}
