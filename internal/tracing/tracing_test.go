package tracing

import (
	"context"
	"errors"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slackmatrix/internal/models"
)

func TestDisabledTracingIsNoop(t *testing.T) {
	m := NewManager(models.TracingConfig{Enabled: false}, logrus.New())
	require.NoError(t, m.Initialize(context.Background()))
	require.NoError(t, m.Shutdown(context.Background()))
}

func TestStdoutTracingLifecycle(t *testing.T) {
	m := NewManager(models.TracingConfig{
		Enabled:     true,
		ServiceName: "slackmatrix-test",
		SampleRate:  1.0,
		UseStdout:   true,
	}, logrus.New())
	require.NoError(t, m.Initialize(context.Background()))

	ctx, span := StartSpan(context.Background(), "test.delivery")
	assert.True(t, span.SpanContext().IsValid())
	RecordError(ctx, errors.New("boom"))
	span.End()

	require.NoError(t, m.Shutdown(context.Background()))
}
