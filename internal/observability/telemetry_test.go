package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTelemetry(t *testing.T) {
	t.Run("disabled telemetry starts nothing", func(t *testing.T) {
		tel, err := Initialize(context.Background(), Config{ServiceName: "gallery-test"})
		require.NoError(t, err)
		assert.Nil(t, tel.TracerProvider)
		assert.Nil(t, tel.MeterProvider)
		assert.NoError(t, tel.Shutdown(context.Background()))
	})

	t.Run("sampler follows the ratio", func(t *testing.T) {
		assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
		assert.Contains(t, sampler(0).Description(), "AlwaysOffSampler")
		assert.Contains(t, sampler(0.25).Description(), "TraceIDRatioBased{0.25}")
	})
}
