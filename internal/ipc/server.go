package ipc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Handler processes one IPC command request.
type Handler interface {
	Handle(context.Context, Request) Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(context.Context, Request) Response

func (f HandlerFunc) Handle(ctx context.Context, req Request) Response {
	return f(ctx, req)
}

const (
	// requestTimeout bounds one whole exchange, so a silent client cannot pin
	// a connection for the lifetime of the session.
	requestTimeout = 2 * time.Second
	// maxRequestBytes caps a request line.
	maxRequestBytes = 4 << 10
)

// Serve accepts unix-socket clients until context cancellation or listener close.
func Serve(ctx context.Context, listener net.Listener, handler Handler, log zerolog.Logger) error {
	var wg sync.WaitGroup

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				wg.Wait()
				return nil
			}
			return fmt.Errorf("accept IPC connection: %w", err)
		}

		wg.Add(1)
		go func(c net.Conn) {
			defer wg.Done()
			defer c.Close()

			_ = c.SetDeadline(time.Now().Add(requestTimeout))
			reader := bufio.NewReader(io.LimitReader(c, maxRequestBytes))
			line, err := reader.ReadBytes('\n')
			if err != nil {
				log.Warn().Err(err).Msg("ipc read request failed")
				_ = json.NewEncoder(c).Encode(Response{OK: false, Error: fmt.Sprintf("read request: %v", err)})
				return
			}

			var req Request
			if err := json.Unmarshal(line, &req); err != nil {
				log.Warn().Err(err).Msg("ipc decode request failed")
				_ = json.NewEncoder(c).Encode(Response{OK: false, Error: fmt.Sprintf("decode request: %v", err)})
				return
			}

			resp := handler.Handle(ctx, req)
			log.Debug().
				Str("command", req.Command).
				Str("target", req.Session).
				Bool("ok", resp.OK).
				Str("state", resp.State).
				Msg("ipc command handled")
			_ = json.NewEncoder(c).Encode(resp)
		}(conn)
	}
}
