package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestStartEndSpan(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, span := StartSpan(context.Background(), "plan", attribute.Int("expanded", 7))
	EndSpan(span, nil)

	_, failed := StartSpan(context.Background(), "ingest")
	EndSpan(failed, errors.New("broken payload"))

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, "plan", spans[0].Name())
	assert.Contains(t, spans[0].Attributes(), attribute.Int("expanded", 7))
	assert.Equal(t, codes.Error, spans[1].Status().Code, "ошибка должна попасть в статус спана")
}
