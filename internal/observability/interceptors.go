// Package observability provides gRPC interceptors and the metrics HTTP server.
package observability

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"dialogflow-intent-stream/internal/observability/metrics"
)

// UnaryClientInterceptor returns a gRPC unary client interceptor for metrics and logging.
func UnaryClientInterceptor(m *metrics.Metrics) grpc.UnaryClientInterceptor {
	return func(
		ctx context.Context,
		method string,
		req, reply interface{},
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		opts ...grpc.CallOption,
	) error {
		start := time.Now()

		err := invoker(ctx, method, req, reply, cc, opts...)

		duration := time.Since(start)
		st, _ := status.FromError(err)
		m.RecordRPC(method, st.Code().String(), duration.Seconds())

		log.Debug().
			Str("method", method).
			Str("code", st.Code().String()).
			Dur("duration", duration).
			Msg("gRPC unary call")

		return err
	}
}

// StreamClientInterceptor returns a gRPC stream client interceptor that
// records the latency and final status of each client stream.
func StreamClientInterceptor(m *metrics.Metrics) grpc.StreamClientInterceptor {
	return func(
		ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		opts ...grpc.CallOption,
	) (grpc.ClientStream, error) {
		start := time.Now()

		cs, err := streamer(ctx, desc, cc, method, opts...)
		if err != nil {
			st, _ := status.FromError(err)
			m.RecordRPC(method, st.Code().String(), time.Since(start).Seconds())
			return nil, err
		}

		return &observedStream{
			ClientStream: cs,
			method:       method,
			start:        start,
			metrics:      m,
		}, nil
	}
}

// observedStream reports once, when RecvMsg first returns an error.
// io.EOF is a clean end of stream.
type observedStream struct {
	grpc.ClientStream
	method  string
	start   time.Time
	metrics *metrics.Metrics
	once    sync.Once
}

func (s *observedStream) RecvMsg(msg interface{}) error {
	err := s.ClientStream.RecvMsg(msg)
	if err != nil {
		s.once.Do(func() { s.finish(err) })
	}
	return err
}

func (s *observedStream) finish(err error) {
	code := codes.OK
	if !errors.Is(err, io.EOF) {
		code = status.Code(err)
	}
	duration := time.Since(s.start)
	s.metrics.RecordRPC(s.method, code.String(), duration.Seconds())

	log.Info().
		Str("method", s.method).
		Str("code", code.String()).
		Dur("duration", duration).
		Msg("gRPC stream completed")
}
