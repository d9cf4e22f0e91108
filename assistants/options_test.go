package assistants_test

import (
	"testing"

	"github.com/effective-security/agentloop/assistants"
	"github.com/effective-security/agentloop/encoding"
	"github.com/stretchr/testify/assert"
)

func Test_Config(t *testing.T) {
	cfg := assistants.NewConfig()
	assert.Equal(t, encoding.ModeDefault, cfg.Mode)
	assert.True(t, cfg.JSONMode)

	cfg = assistants.NewConfig(
		assistants.WithMode(encoding.ModePlainText),
		assistants.WithModel("gpt-4o"),
		assistants.WithMaxTokens(256),
		assistants.WithTemperature(0.2),
		assistants.WithMaxToolCalls(5),
		assistants.WithMaxMessages(20),
		assistants.WithMaxLength(4096),
		assistants.WithSkipMessageHistory(true),
	)
	assert.False(t, cfg.JSONMode)
	assert.Equal(t, "gpt-4o", cfg.Model)
	assert.Equal(t, 5, cfg.MaxToolCalls)
	assert.Equal(t, 20, cfg.MaxMessages)
	assert.Equal(t, 4096, cfg.MaxLength)
	assert.True(t, cfg.SkipMessageHistory)

	opts := cfg.GetCallOptions(nil)
	assert.NotEmpty(t, opts)
}

func Test_Config_Apply(t *testing.T) {
	base := assistants.NewConfig(assistants.WithMaxToolCalls(5))

	perCall := base.Apply(assistants.WithMaxToolCalls(1))
	assert.Equal(t, 1, perCall.MaxToolCalls)
	// the base config is not modified
	assert.Equal(t, 5, base.MaxToolCalls)
}
