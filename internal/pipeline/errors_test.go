package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string { return "i/o timeout" }
func (timeoutErr) Timeout() bool { return true }
func (timeoutErr) Temporary() bool {
	return true
}

func TestClassifyErrorWrappedKindWins(t *testing.T) {
	t.Parallel()
	require.Equal(t, KindTransient, ClassifyError(Transient(errors.New("x"))))
	require.Equal(t, KindPermanent, ClassifyError(Permanent(errors.New("x"))))
	require.Equal(t, KindInfrastructure, ClassifyError(Infrastructure(errors.New("x"))))

	wrapped := fmt.Errorf("extract unit: %w", Infrastructure(errors.New("store down")))
	require.Equal(t, KindInfrastructure, ClassifyError(wrapped))
}

func TestClassifyErrorTimeoutsAreTransient(t *testing.T) {
	t.Parallel()
	require.Equal(t, KindTransient, ClassifyError(context.DeadlineExceeded))
	require.Equal(t, KindTransient, ClassifyError(fmt.Errorf("do: %w", timeoutErr{})))
}

func TestClassifyErrorDefaultsToPermanent(t *testing.T) {
	t.Parallel()
	require.Equal(t, KindPermanent, ClassifyError(errors.New("document malformed")))
}

func TestUnitErrorUnwrap(t *testing.T) {
	t.Parallel()
	base := errors.New("engine down")
	err := Transient(base)
	require.ErrorIs(t, err, base)
	require.Contains(t, err.Error(), "transient")
}
