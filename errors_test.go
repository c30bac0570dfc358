package orcall

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallError_Format(t *testing.T) {
	assert.Equal(t,
		"[not_found:PROCEDURE_NOT_FOUND] procedure nosuch: "+ProcedureNotFoundMessage,
		NewProcedureNotFoundError("nosuch").Error())
	assert.Equal(t,
		"[validation:TYPE_MISMATCH] parameter 'p1.a': declared INTEGER but got string",
		NewTypeMismatchError("p1.a", TypeInteger, KindString).Error())
	assert.Equal(t,
		"[validation:TYPE_MISMATCH] echo parameter 'v': declared DATE but got float",
		NewTypeMismatchError("v", TypeDate, KindFloat).WithProcedure("echo").Error())
}

func TestCallError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("calling: %w", NewApplicationNotFoundError("missing"))
	assert.True(t, errors.Is(err, ErrApplicationNotFound))
	assert.False(t, errors.Is(err, ErrProcedureNotFound))
}

func TestCallError_Unwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := NewTransportError("helloworld", cause)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "helloworld", err.Procedure)

	err.WithDetail("attempt", 1)
	assert.Equal(t, 1, err.Details["attempt"])
}
