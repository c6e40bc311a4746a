package tracing_test

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/acmefront/core/tracing"
)

func TestNew_Stdout(t *testing.T) {
	var buf bytes.Buffer
	p, err := tracing.New(context.Background(),
		tracing.Config{Exporter: tracing.ExporterStdout, SampleRatio: 1},
		tracing.WithOutput(&buf),
		tracing.WithServiceName("acmefront-test"))
	require.NoError(t, err)

	_, span := p.TracerProvider().Tracer("test").Start(context.Background(), "upstream.submit")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Contains(t, buf.String(), "upstream.submit")
	assert.Contains(t, buf.String(), "acmefront-test")
}

func TestNew_None(t *testing.T) {
	p, err := tracing.New(context.Background(), tracing.Config{Exporter: tracing.ExporterNone})
	require.NoError(t, err)
	assert.NotNil(t, p.TracerProvider())
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestNew_Unknown(t *testing.T) {
	_, err := tracing.New(context.Background(), tracing.Config{Exporter: "zipkin"})
	assert.ErrorIs(t, err, tracing.ErrUnknownExporter)
}
