package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	tk := New("debug the payment service", PriorityHigh)

	assert.NotEmpty(t, tk.ID)
	assert.Equal(t, "debug the payment service", tk.Description)
	assert.Equal(t, PriorityHigh, tk.Priority)
	assert.Equal(t, StatusPending, tk.Status)
	assert.Equal(t, Specialization(""), tk.Specialization)
	assert.Equal(t, DefaultMaxTokens, tk.MaxTokens)
	assert.Equal(t, DefaultTemperature, tk.Temperature)
	assert.Equal(t, 0, tk.Retries)
	assert.False(t, tk.CreatedAt.IsZero())
	assert.Nil(t, tk.StartedAt)
	assert.Nil(t, tk.CompletedAt)
	assert.Nil(t, tk.Result)
}

func TestNew_DefaultPriority(t *testing.T) {
	tk := New("summarize release notes", "")

	assert.Equal(t, PriorityNormal, tk.Priority)
}

func TestToJSON(t *testing.T) {
	tk := New("analyze quarterly trends", PriorityNormal)
	tk.Specialization = SpecAnalysis

	jsonStr, err := tk.ToJSON()

	assert.NoError(t, err)
	assert.Contains(t, jsonStr, "analyze quarterly trends")
	assert.Contains(t, jsonStr, string(SpecAnalysis))
}

func TestFromJSON(t *testing.T) {
	original := New("write a launch story", PriorityLow)
	original.Status = StatusCompleted
	original.Result = &Result{Content: "done", Model: "m", TokensUsed: 42, LatencyMs: 120}
	jsonStr, _ := original.ToJSON()

	restored, err := FromJSON(jsonStr)

	assert.NoError(t, err)
	assert.Equal(t, original.ID, restored.ID)
	assert.Equal(t, original.Description, restored.Description)
	assert.Equal(t, original.Status, restored.Status)
	assert.Equal(t, original.Priority, restored.Priority)
	assert.Equal(t, original.Result, restored.Result)
}

func TestFromJSON_InvalidJSON(t *testing.T) {
	_, err := FromJSON("invalid json")

	assert.Error(t, err)
}

func TestStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusInProgress.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
}

func TestValidPriority(t *testing.T) {
	for _, p := range []Priority{PriorityCritical, PriorityHigh, PriorityNormal, PriorityLow, PriorityBackground} {
		assert.True(t, ValidPriority(p))
	}
	assert.False(t, ValidPriority("urgent"))
}

func TestSpecializationsOrder(t *testing.T) {
	specs := Specializations()

	assert.Equal(t, []Specialization{SpecCoding, SpecAnalysis, SpecCreative, SpecReasoning, SpecGeneral}, specs)
}
