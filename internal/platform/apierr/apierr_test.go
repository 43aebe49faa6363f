package apierr

import (
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSentinelMatchingThroughWrap(t *testing.T) {
	err := fmt.Errorf("submit: %w", NotFound("chatbot"))
	require.ErrorIs(t, err, ErrNotFound)
	require.NotErrorIs(t, err, ErrValidation)

	e, ok := As(err)
	require.True(t, ok)
	require.Equal(t, http.StatusNotFound, e.Status)
	require.Equal(t, "chatbot not found", e.Error())
}

func TestQuotaExceededMapsTo429(t *testing.T) {
	e := QuotaExceeded()
	require.ErrorIs(t, e, ErrQuotaExceeded)
	require.Equal(t, http.StatusTooManyRequests, e.Status)
}

func TestErrorFallbackText(t *testing.T) {
	require.Equal(t, "rate_limited", ErrRateLimited.Error())
	require.Equal(t, "api error (418)", (&Error{Status: 418}).Error())
	var nilErr *Error
	require.Equal(t, "", nilErr.Error())
}
