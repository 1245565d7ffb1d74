package dispatcher

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"connectrpc.com/connect"
)

// LoggingInterceptor logs the lifetime of the client stream, its
// open-to-close span; individual frames are not logged.
type LoggingInterceptor struct {
	logger *slog.Logger
}

func NewLoggingInterceptor(logger *slog.Logger) *LoggingInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingInterceptor{logger: logger}
}

func (i *LoggingInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		return next(ctx, req)
	}
}

func (i *LoggingInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *LoggingInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) error {
		start := time.Now()
		i.logger.Info("stream opened", "method", conn.Spec().Procedure, "peer", conn.Peer().Addr)

		err := next(ctx, conn)

		duration := time.Since(start)
		if err != nil {
			i.logger.Error("stream closed with error", "method", conn.Spec().Procedure, "duration_ms", duration.Milliseconds(), "error", err)
		} else {
			i.logger.Info("stream closed", "method", conn.Spec().Procedure, "duration_ms", duration.Milliseconds())
		}
		return err
	}
}

// RecoveryInterceptor recovers a panic escaping the stream handler so
// one bad frame never takes the whole process down.
type RecoveryInterceptor struct {
	logger *slog.Logger
}

func NewRecoveryInterceptor(logger *slog.Logger) *RecoveryInterceptor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecoveryInterceptor{logger: logger}
}

func (i *RecoveryInterceptor) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (resp connect.AnyResponse, err error) {
		return next(ctx, req)
	}
}

func (i *RecoveryInterceptor) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (i *RecoveryInterceptor) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return func(ctx context.Context, conn connect.StreamingHandlerConn) (err error) {
		defer func() {
			if r := recover(); r != nil {
				i.logger.Error("stream panic recovered", "method", conn.Spec().Procedure, "panic", r)
				err = connect.NewError(connect.CodeInternal, fmt.Errorf("internal server error: panic recovered"))
			}
		}()
		return next(ctx, conn)
	}
}

// DefaultInterceptors returns the stream-scoped interceptor chain:
// recovery first so a panic anywhere downstream, including in
// logging, never escapes unrecovered.
func DefaultInterceptors(logger *slog.Logger) []connect.Interceptor {
	return []connect.Interceptor{
		NewRecoveryInterceptor(logger),
		NewLoggingInterceptor(logger),
	}
}
