package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewMetricsCollectorDisabledIsNoOp(t *testing.T) {
	c, err := NewMetricsCollector(MetricsConfig{Enabled: false})
	require.NoError(t, err)

	c.RecordChapterProcessed("novel-1", "completed", time.Second)
	c.RecordLLMRequest("gpt-4", "success", time.Second)
	c.RecordConsolidatorStage("synonym_merge", time.Millisecond)
	c.IncrementActiveTasks()
	c.DecrementActiveTasks()
	require.NoError(t, c.Shutdown(context.Background()))
}

func TestNewMetricsCollectorEnabledRecordsWithoutPanicking(t *testing.T) {
	c, err := NewMetricsCollector(MetricsConfig{Enabled: true, PrometheusPort: 0})
	require.NoError(t, err)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		require.NoError(t, c.Shutdown(ctx))
	}()

	c.RecordChapterProcessed("novel-1", "completed", time.Second)
	c.RecordLLMRequest("gpt-4", "success", time.Second)
	c.RecordConsolidatorStage("synonym_merge", time.Millisecond)
	c.IncrementActiveTasks()
	c.DecrementActiveTasks()
}

func TestNilCollectorMethodsAreNoOps(t *testing.T) {
	var c *Collector
	c.RecordChapterProcessed("novel-1", "completed", time.Second)
	c.IncrementActiveTasks()
	require.NoError(t, c.Shutdown(context.Background()))
}
