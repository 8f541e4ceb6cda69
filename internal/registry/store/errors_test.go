package store

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorsUnwrapThroughWrapping(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("transfer: %w", &PersistenceError{ObjectID: "X", Err: cause})

	var persist *PersistenceError
	require.True(t, errors.As(err, &persist))
	require.Equal(t, "X", persist.ObjectID)
	require.ErrorIs(t, err, cause)

	missing := &NotFoundError{Resource: "user account", ID: "A"}
	pre := &PreconditionError{Message: "source account", Err: missing}
	var nf *NotFoundError
	require.True(t, errors.As(pre, &nf))
	require.Equal(t, "precondition failed: source account: user account not found: A", pre.Error())
}

func TestSelectUnknownStore(t *testing.T) {
	_, err := Select("does-not-exist")
	require.Error(t, err)
}
