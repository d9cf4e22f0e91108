package tools_test

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/agentloop/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type rangeRequest struct {
	From int `json:"from" validate:"gte=0"`
	To   int `json:"to"`
}

func (r *rangeRequest) Validate() error {
	if r.To < r.From {
		return errors.New("to must not be less than from")
	}
	return nil
}

func TestFuncTool(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	tool, err := tools.NewTool("range", "Counts a range.",
		func(_ context.Context, req *rangeRequest) (*rangeRequest, error) {
			return req, nil
		})
	require.NoError(t, err)

	assert.Equal(t, "range", tool.Name())
	assert.Equal(t, "Counts a range.", tool.Description())
	assert.NotNil(t, tool.Parameters())
	assert.NotNil(t, tool.Schema())

	// Run with typed input
	out, err := tool.Run(ctx, &rangeRequest{From: 1, To: 3})
	require.NoError(t, err)
	assert.Equal(t, 3, out.To)

	// Call with raw input
	res, err := tool.Call(ctx, `{"from":1,"to":3}`)
	require.NoError(t, err)
	assert.Equal(t, `{"from":1,"to":3}`, res)

	// struct tag validation
	_, err = tool.Call(ctx, `{"from":-1,"to":3}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid tool input")

	// custom Validatable
	_, err = tool.Call(ctx, `{"from":5,"to":3}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "to must not be less than from")
}
