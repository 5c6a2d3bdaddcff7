package faults

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	err := New(SecurityViolation, "net_probe", "generated code rejected", "import: \"net\" is prohibited")
	assert.Equal(t, `security_violation [net_probe]: generated code rejected (import: "net" is prohibited)`, err.Error())
}

func TestKindOfThroughWrapping(t *testing.T) {
	base := New(NotFound, "abrir_app", "no such function")
	wrapped := fmt.Errorf("execute: %w", base)

	assert.Equal(t, NotFound, KindOf(wrapped))
	assert.Equal(t, Internal, KindOf(errors.New("plain")))

	fe, ok := As(wrapped)
	assert.True(t, ok)
	assert.Equal(t, "abrir_app", fe.Function)
}

func TestWrapUnwraps(t *testing.T) {
	cause := errors.New("disk full")
	err := Wrap(Internal, "f", cause, "write function file")
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "disk full")
}
