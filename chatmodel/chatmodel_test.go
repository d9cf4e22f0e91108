package chatmodel

import (
	goerr "errors"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrFailedUnmarshalInput(t *testing.T) {
	err := ErrFailedUnmarshalInput
	assert.True(t, goerr.Is(err, ErrFailedUnmarshalInput))
	assert.True(t, goerr.Is(errors.WithStack(err), ErrFailedUnmarshalInput))
	assert.True(t, goerr.Is(errors.Wrap(err, "test"), ErrFailedUnmarshalInput))
	assert.True(t, goerr.Is(errors.WithMessage(err, "test"), ErrFailedUnmarshalInput))
	assert.False(t, goerr.Is(err, ErrInvalidChatContext))
}

func TestStringify(t *testing.T) {
	assert.Equal(t, "foo", Stringify(NewString("foo")))
	assert.Equal(t, "bar", Stringify(OutputResult{Content: "bar"}))

	type payload struct {
		Name string `json:"name"`
	}
	assert.Equal(t, `{"name":"baz"}`, Stringify(payload{Name: "baz"}))
	assert.Equal(t, []byte(`{"name":"baz"}`), ToBytes(payload{Name: "baz"}))
	assert.Equal(t, []byte("foo"), ToBytes(NewString("foo")))
	assert.Equal(t, []byte("bar"), ToBytes(OutputResult{Content: "bar"}))
}
