package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCategorize_FindsWrapped(t *testing.T) {
	base := NewUnknownChainError("fantom")
	wrapped := fmt.Errorf("resolve chain: %w", base)

	cat := Categorize(wrapped)
	require.NotNil(t, cat)
	assert.Equal(t, CategoryConfiguration, cat.Category)
	assert.Equal(t, http.StatusBadRequest, GetHTTPStatusCode(wrapped))
	assert.True(t, IsUserError(wrapped))
	assert.True(t, Is(wrapped, CategoryConfiguration))
	assert.False(t, Is(wrapped, CategoryPersistence))
}

func TestCategorize_PlainError(t *testing.T) {
	cat := Categorize(stderrors.New("boom"))
	assert.Equal(t, CategorySystem, cat.Category)
	assert.Equal(t, http.StatusInternalServerError, cat.StatusCode)
	assert.Nil(t, Categorize(nil))
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"connectivity", NewConnectivityError("https://rpc", stderrors.New("dial")), true},
		{"upstream status", NewUpstreamStatusError("coingecko", 502), true},
		{"rate limit", NewRateLimitError(1), true},
		{"data", NewDataError("coingecko", stderrors.New("bad json")), false},
		{"config", NewInvalidAddressError("0x1"), false},
		{"persistence", NewPersistenceError("upsert", stderrors.New("x")), false},
		{"unavailable", NewServiceUnavailableError("db"), true},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestCategorizedError_UnwrapAndMessage(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := NewPersistenceError("asset upsert", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "PERSISTENCE_ERROR")
	assert.Contains(t, err.Error(), "connection refused")

	resp := err.ToResponse()
	assert.Equal(t, "PERSISTENCE_ERROR", resp.Code)
	assert.Equal(t, "asset upsert", resp.Details["operation"])
}
