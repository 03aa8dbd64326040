package server

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/mshafei721/AIAG-P/pkg/schema"
)

const tracerName = "aiag-gateway"

// startSpan opens the server span for one command execution.
func (s *Server) startSpan(ctx context.Context, req *schema.Request, sessionID, clientID string) (context.Context, trace.Span) {
	return s.tracer.Start(ctx, "aiag."+req.Method,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String("aiag.method", req.Method),
			attribute.String("aiag.session_id", sessionID),
			attribute.String("aiag.client_id", clientID),
		),
	)
}

// finishSpan stamps the outcome and ends the span.
func (s *Server) finishSpan(span trace.Span, fromCache bool, err error) {
	span.SetAttributes(attribute.Bool("aiag.from_cache", fromCache))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, schema.WireError(err).Type)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
