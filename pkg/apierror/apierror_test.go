package apierror

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAPIErrorFormatting(t *testing.T) {
	t.Parallel()

	require.Equal(t, "BAD_REQUEST: invalid JSON body", BadRequest("invalid JSON body", "").Error())
	require.Equal(t, "BAD_REQUEST: email is required (email)", BadRequest("email is required", "email").Error())

	var nilErr *APIError
	require.Equal(t, "", nilErr.Error())
	require.Nil(t, nilErr.Unwrap())
}

func TestWrapKeepsCause(t *testing.T) {
	t.Parallel()

	cause := errors.New("duplicate")
	err := Wrap(cause, "ALREADY_EXISTS", "account exists", http.StatusConflict)

	require.ErrorIs(t, err, cause)
	require.Equal(t, http.StatusConflict, err.HTTPStatus)

	var apiErr *APIError
	require.True(t, errors.As(error(err), &apiErr))
	require.Equal(t, "ALREADY_EXISTS", apiErr.Code)
}
