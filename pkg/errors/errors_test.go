package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppErrorMessage(t *testing.T) {
	base := New("notification.test", "Something broke", http.StatusBadRequest)
	require.Equal(t, "Something broke", base.Error())

	wrapped := base.WithInternal(errors.New("column missing"))
	require.Equal(t, "Something broke: column missing", wrapped.Error())

	// WithInternal must not mutate the shared sentinel.
	require.Nil(t, base.Internal)
}

func TestSentinelIdentityThroughWrapping(t *testing.T) {
	err := fmt.Errorf("marking sent: %w", ErrUpdateConflict)

	require.ErrorIs(t, err, ErrUpdateConflict)
	require.NotErrorIs(t, err, ErrCancelConflict)

	var appErr *AppError
	require.ErrorAs(t, err, &appErr)
	require.Equal(t, http.StatusConflict, appErr.StatusCode)
}

func TestFromError(t *testing.T) {
	require.Nil(t, FromError(nil))

	appErr := FromError(ErrNotificationNotFound)
	require.Equal(t, ErrNotificationNotFound.Code, appErr.Code)

	generic := FromError(errors.New("disk full"))
	require.Equal(t, ErrInternalServer.Code, generic.Code)
	require.ErrorContains(t, generic, "disk full")
}

func TestWrapKeepsOriginal(t *testing.T) {
	cause := errors.New("dial tcp: refused")
	wrapped := Wrap(cause, "sending notification")

	require.ErrorIs(t, wrapped, cause)
	require.Equal(t, http.StatusInternalServerError, wrapped.StatusCode)
}
