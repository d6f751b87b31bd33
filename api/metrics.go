package api

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "retro-api/api"

type mutationMetrics struct {
	logger        *log.Logger
	span          trace.Span
	start         time.Time
	authDuration  time.Duration
	applyDuration time.Duration
	board         string
	kind          string
	errorStage    string
}

func newMutationMetrics(ctx context.Context, logger *log.Logger) (*mutationMetrics, context.Context) {
	spanCtx, span := otel.Tracer(tracerName).Start(ctx, "board.mutation")
	return &mutationMetrics{
		logger: logger,
		span:   span,
		start:  time.Now(),
	}, spanCtx
}

func (m *mutationMetrics) ObserveAuth(duration time.Duration) {
	if duration > 0 {
		m.authDuration = duration
	}
}

func (m *mutationMetrics) ObserveApply(duration time.Duration) {
	if duration > 0 {
		m.applyDuration = duration
	}
}

func (m *mutationMetrics) SetBoard(board string) {
	m.board = board
}

func (m *mutationMetrics) SetKind(kind string) {
	m.kind = kind
}

func (m *mutationMetrics) SetErrorStage(stage string) {
	if stage != "" {
		m.errorStage = stage
	}
}

func (m *mutationMetrics) Log(status int, err error) {
	if m == nil || m.logger == nil {
		return
	}

	fields := log.Fields{
		"route":    "/api/boards/:board/mutations",
		"status":   status,
		"total_ms": durationToMillis(time.Since(m.start)),
	}
	attrs := []attribute.KeyValue{
		attribute.Int("http.status_code", status),
	}
	if m.board != "" {
		fields["board"] = m.board
		attrs = append(attrs, attribute.String("board.id", m.board))
	}
	if m.kind != "" {
		fields["kind"] = m.kind
		attrs = append(attrs, attribute.String("mutation.kind", m.kind))
	}
	if m.authDuration > 0 {
		fields["auth_ms"] = durationToMillis(m.authDuration)
	}
	if m.applyDuration > 0 {
		fields["apply_ms"] = durationToMillis(m.applyDuration)
	}
	if m.errorStage != "" {
		fields["error_stage"] = m.errorStage
		attrs = append(attrs, attribute.String("error.stage", m.errorStage))
	}
	if err != nil {
		fields["error"] = err.Error()
		m.span.SetStatus(codes.Error, err.Error())
	}

	m.span.SetAttributes(attrs...)
	m.span.End()
	m.logger.WithFields(fields).Info("mutation.request.metrics")
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}
