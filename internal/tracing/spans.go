package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrToolName       = "tool.name"
	AttrRequestID      = "request.id"
	AttrConversationID = "conversation.id"
	AttrWorkerPID      = "worker.pid"
	AttrOutcome        = "request.outcome"
	AttrTimeoutMs      = "request.timeout_ms"

	AttrErrorMessage = "error.message"
	AttrErrorType    = "error.type"
)

// Span names.
const (
	SpanRequestTool = "supervisor.request_tool"
	SpanPrefixTool  = "worker.tool."
)

// Event names.
const (
	EventRequestSent   = "request.sent"
	EventResultMatched = "result.matched"
)

// StartToolSpan starts a span describing one tool invocation.
func StartToolSpan(ctx context.Context, tracer trace.Tracer, name, tool, requestID, conversationID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String(AttrToolName, tool),
			attribute.String(AttrRequestID, requestID),
			attribute.String(AttrConversationID, conversationID),
		),
	)
}

// EndSpan records outcome and err on span and ends it.
func EndSpan(span trace.Span, outcome string, err error) {
	if outcome != "" {
		span.SetAttributes(attribute.String(AttrOutcome, outcome))
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(AttrErrorMessage, err.Error()))
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}
