package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_Unwrap_PreservesCause(t *testing.T) {
	// Given: an underlying error
	cause := errors.New("connection refused")

	// When: wrapping it
	err := New(ErrCodeSourceUnavailable, "lexical source unavailable", cause)

	// Then: the cause is reachable through the chain
	require.NotNil(t, err)
	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
}

func TestAppError_Error_Format(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{"config", ErrCodeChunkConfigInvalid, "overlap must be smaller than window", "[ERR_104_CHUNK_CONFIG_INVALID] overlap must be smaller than window"},
		{"retrieval", ErrCodeRetrievalUnavailable, "all sources failed", "[ERR_506_RETRIEVAL_UNAVAILABLE] all sources failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, New(tt.code, tt.message, nil).Error())
		})
	}
}

func TestAppError_Is_MatchesByCode(t *testing.T) {
	err := fmt.Errorf("retrieve: %w", New(ErrCodeInvalidTopK, "top_k must be positive", nil))

	assert.True(t, errors.Is(err, New(ErrCodeInvalidTopK, "", nil)))
	assert.False(t, errors.Is(err, New(ErrCodeQueryEmpty, "", nil)))
}

func TestNew_DerivesCategorySeverityRetryable(t *testing.T) {
	tests := []struct {
		code      string
		category  Category
		severity  Severity
		retryable bool
	}{
		{ErrCodeConfigInvalid, CategoryConfig, SeverityError, false},
		{ErrCodeFileCorrupt, CategoryIO, SeverityError, false},
		{ErrCodeSourceTimeout, CategoryNetwork, SeverityWarning, true},
		{ErrCodeSourceUnavailable, CategoryNetwork, SeverityWarning, true},
		{ErrCodeInvalidTopK, CategoryValidation, SeverityError, false},
		{ErrCodeRetrievalUnavailable, CategoryInternal, SeverityFatal, false},
		{"BOGUS", CategoryInternal, SeverityError, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "msg", nil)
			assert.Equal(t, tt.category, err.Category)
			assert.Equal(t, tt.severity, err.Severity)
			assert.Equal(t, tt.retryable, err.Retryable)
		})
	}
}

func TestWrap_NilReturnsNil(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestHelpers_WorkThroughWrappedChains(t *testing.T) {
	// Given: an AppError wrapped by fmt.Errorf
	inner := New(ErrCodeSourceTimeout, "dense timed out", nil).WithDetail("source", "dense")
	err := fmt.Errorf("query failed: %w", inner)

	// Then: helpers unwrap the chain
	assert.Equal(t, ErrCodeSourceTimeout, GetCode(err))
	assert.Equal(t, CategoryNetwork, GetCategory(err))
	assert.True(t, IsRetryable(err))
	assert.False(t, IsFatal(err))
	assert.True(t, HasCode(err, ErrCodeSourceTimeout))

	ae, ok := As(err)
	require.True(t, ok)
	assert.Equal(t, "dense", ae.Details["source"])
}

func TestHelpers_PlainError(t *testing.T) {
	err := errors.New("plain")

	assert.Empty(t, GetCode(err))
	assert.Empty(t, GetCategory(err))
	assert.False(t, IsRetryable(err))
	assert.False(t, IsRetryable(nil))
}

func TestWithSuggestion_Chains(t *testing.T) {
	err := ConfigError("bad backend", nil).WithSuggestion("use elasticsearch or local")

	assert.Equal(t, ErrCodeConfigInvalid, err.Code)
	assert.Equal(t, "use elasticsearch or local", err.Suggestion)
}
