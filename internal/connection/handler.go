package connection

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"connectrpc.com/connect"
)

// StreamProcedure is the Connect procedure path the bidi stream is
// served on.
const StreamProcedure = "/beacon.transport.v1.Connector/Stream"

// NewStreamHandler builds the Connect bidi-stream HTTP handler backing
// the client wire protocol, over the hand-written JSON codec since no
// protobuf code generation is available in this tree.
func NewStreamHandler(mgr *Manager, logger *slog.Logger, interceptors ...connect.Interceptor) (string, http.Handler) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []connect.HandlerOption{connect.WithCodec(jsonCodec{})}
	if len(interceptors) > 0 {
		opts = append(opts, connect.WithInterceptors(interceptors...))
	}
	return connect.NewBidiStreamHandler(
		StreamProcedure,
		func(ctx context.Context, stream *connect.BidiStream[Frame, Frame]) error {
			return mgr.serve(ctx, stream, logger)
		},
		opts...,
	)
}

// serve runs one connection's lifetime: it opens a Connection, starts
// a write pump draining pushes onto the stream, and reads inbound
// frames until the client disconnects or the context is canceled.
func (m *Manager) serve(ctx context.Context, stream *connect.BidiStream[Frame, Frame], logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	clientIP := stream.RequestHeader().Get("X-Forwarded-For")
	if clientIP == "" {
		clientIP = "unknown"
	}

	conn := m.Open(clientIP, 0, nil, cancel)
	defer m.Close(conn.ID(), "stream ended")

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		m.writePump(ctx, conn, stream, logger)
	}()

	for {
		frame, err := stream.Receive()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			logger.Warn("stream receive failed", "connection_id", conn.ID(), "error", err)
			break
		}

		resp := m.HandleFrame(ctx, conn.ID(), frame)
		if resp == nil {
			continue
		}
		if err := sendFrame(ctx, conn, stream, resp); err != nil {
			logger.Warn("stream send failed", "connection_id", conn.ID(), "error", err)
			break
		}
	}

	cancel()
	<-writeDone
	return nil
}

// writePump blocks on the connection's notify channel and flushes
// every queued push to the stream as it wakes, until ctx is canceled.
func (m *Manager) writePump(ctx context.Context, conn *Connection, stream *connect.BidiStream[Frame, Frame], logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Notify():
			for _, frame := range conn.DrainPending() {
				if err := sendFrame(ctx, conn, stream, frame); err != nil {
					logger.Warn("push delivery failed", "connection_id", conn.ID(), "error", err)
					return
				}
			}
		}
	}
}

// sendFrame serializes access to the stream's Send method behind the
// connection's outbound send permit: BidiStream.Send writes an
// unsynchronized envelope onto the HTTP/2 response writer, so the read
// loop (request responses) and writePump (pushes) must never call it
// concurrently.
func sendFrame(ctx context.Context, conn *Connection, stream *connect.BidiStream[Frame, Frame], frame *Frame) error {
	release, err := conn.AcquireSend(ctx)
	if err != nil {
		return err
	}
	defer release()
	return stream.Send(frame)
}
