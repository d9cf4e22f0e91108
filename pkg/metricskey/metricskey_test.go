package metricskey

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMetricsDefinitions(t *testing.T) {
	for _, m := range Metrics {
		assert.NotEmpty(t, m.Name, "Metric name should not be empty")
		assert.NotEmpty(t, m.Help, "Metric help text should not be empty")
		assert.NotEmpty(t, m.RequiredTags, "Metric should have required tags")
	}

	isSorted := sort.SliceIsSorted(Metrics, func(i, j int) bool {
		return Metrics[i].Name < Metrics[j].Name
	})
	assert.True(t, isSorted, "Metrics slice should be sorted by name")

	seen := make(map[string]bool)
	for _, m := range Metrics {
		assert.False(t, seen[m.Name], "Metric name should be unique: %s", m.Name)
		seen[m.Name] = true
	}

	t.Run("assistant metrics have agent tag", func(t *testing.T) {
		for _, m := range []string{
			StatsAssistantCallsSucceeded.Name,
			StatsAssistantCallsFailed.Name,
			StatsAssistantLLMParseErrors.Name,
		} {
			for _, d := range Metrics {
				if d.Name == m {
					assert.Contains(t, d.RequiredTags, "agent", "metric should have agent tag: %s", m)
				}
			}
		}
	})

	t.Run("tool metrics have tool tag", func(t *testing.T) {
		assert.Contains(t, StatsToolCallsSucceeded.RequiredTags, "tool")
		assert.Contains(t, StatsToolCallsFailed.RequiredTags, "tool")
		assert.Contains(t, StatsToolCallsNotFound.RequiredTags, "tool")
	})
}
