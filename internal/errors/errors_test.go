package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_Unwrap_PreservesOriginalError(t *testing.T) {
	originalErr := errors.New("original error")

	wrapped := New(ErrCodeFileNotFound, "file not found: test.txt", originalErr)

	require.NotNil(t, wrapped)
	assert.Equal(t, originalErr, errors.Unwrap(wrapped))
	assert.True(t, errors.Is(wrapped, originalErr))
}

func TestError_Error_ReturnsFormattedMessage(t *testing.T) {
	tests := []struct {
		name     string
		code     string
		message  string
		expected string
	}{
		{
			name:     "config error",
			code:     ErrCodeConfigNotFound,
			message:  "config file not found",
			expected: "[ERR_101_CONFIG_NOT_FOUND] config file not found",
		},
		{
			name:     "file error",
			code:     ErrCodeFileNotFound,
			message:  "file.go not found",
			expected: "[ERR_201_FILE_NOT_FOUND] file.go not found",
		},
		{
			name:     "network error",
			code:     ErrCodeTimedOut,
			message:  "request timed out",
			expected: "[ERR_302_TIMED_OUT] request timed out",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, tt.message, nil)
			assert.Equal(t, tt.expected, err.Error())
		})
	}
}

func TestError_Is_MatchesByCode(t *testing.T) {
	err1 := New(ErrCodeFileNotFound, "file A not found", nil)
	err2 := New(ErrCodeFileNotFound, "file B not found", nil)

	assert.True(t, errors.Is(err1, err2))
}

func TestError_Is_DoesNotMatchDifferentCodes(t *testing.T) {
	err1 := New(ErrCodeFileNotFound, "file not found", nil)
	err2 := New(ErrCodeConfigNotFound, "config not found", nil)

	assert.False(t, errors.Is(err1, err2))
}

func TestError_WithDetail_AddsContext(t *testing.T) {
	err := New(ErrCodeFileNotFound, "file not found", nil)

	err = err.WithDetail("path", "/foo/bar.go")
	err = err.WithDetail("size", "1024")

	assert.Equal(t, "/foo/bar.go", err.Details["path"])
	assert.Equal(t, "1024", err.Details["size"])
}

func TestError_WithSuggestion_AddsSuggestion(t *testing.T) {
	err := New(ErrCodeTimedOut, "connection timed out", nil)

	err = err.WithSuggestion("check your network connection")

	assert.Equal(t, "check your network connection", err.Suggestion)
}

func TestCategoryFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantCategory Category
	}{
		{ErrCodeConfigNotFound, CategoryConfig},
		{ErrCodeConfigInvalid, CategoryConfig},
		{ErrCodeFileNotFound, CategoryIO},
		{ErrCodeFilePermission, CategoryIO},
		{ErrCodeTimedOut, CategoryNetwork},
		{ErrCodeNetworkBlocked, CategoryNetwork},
		{ErrCodeCredentialMissing, CategoryCredential},
		{ErrCodeAuthRejected, CategoryCredential},
		{ErrCodeInvalidInput, CategoryValidation},
		{ErrCodeDimensionMismatch, CategoryValidation},
		{ErrCodeGuardBlocked, CategoryGuard},
		{ErrCodeInternal, CategoryInternal},
		{ErrCodeEmbeddingFailed, CategoryInternal},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantCategory, err.Category)
		})
	}
}

func TestSeverityFromCode(t *testing.T) {
	tests := []struct {
		code         string
		wantSeverity Severity
	}{
		{ErrCodeStoreCorrupt, SeverityFatal},
		{ErrCodeDiskFull, SeverityFatal},
		{ErrCodeIndexingFailed, SeverityFatal},
		{ErrCodeFileNotFound, SeverityError},
		{ErrCodeTimedOut, SeverityWarning},
		{ErrCodeRateLimited, SeverityWarning},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantSeverity, err.Severity)
		})
	}
}

func TestRetryableFromCode(t *testing.T) {
	tests := []struct {
		code          string
		wantRetryable bool
	}{
		{ErrCodeTimedOut, true},
		{ErrCodeRateLimited, true},
		{ErrCodeFileNotFound, false},
		{ErrCodeConfigInvalid, false},
		{ErrCodeStoreCorrupt, false},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			err := New(tt.code, "test message", nil)
			assert.Equal(t, tt.wantRetryable, err.Retryable)
		})
	}
}

func TestWrap_CreatesErrorFromError(t *testing.T) {
	originalErr := errors.New("something went wrong")

	wrapped := Wrap(ErrCodeInternal, originalErr)

	require.NotNil(t, wrapped)
	assert.Equal(t, ErrCodeInternal, wrapped.Code)
	assert.Equal(t, "something went wrong", wrapped.Message)
	assert.Equal(t, originalErr, wrapped.Cause)
}

func TestWrap_ReturnsNilForNilError(t *testing.T) {
	assert.Nil(t, Wrap(ErrCodeInternal, nil))
}

func TestConfigError_CreatesConfigCategoryError(t *testing.T) {
	err := ConfigError("invalid yaml syntax", nil)

	assert.Equal(t, CategoryConfig, err.Category)
	assert.Contains(t, err.Code, "CONFIG")
}

func TestNetworkBlocked_CreatesNetworkCategoryError(t *testing.T) {
	err := NetworkBlocked("https://api.example.com/v1/chat", "offline")

	assert.Equal(t, CategoryNetwork, err.Category)
	assert.Equal(t, "https://api.example.com/v1/chat", err.Details["url"])
	assert.Equal(t, "offline", err.Details["mode"])
}

func TestCredentialError_CreatesCredentialCategoryError(t *testing.T) {
	err := CredentialError("no API key configured", nil)

	assert.Equal(t, CategoryCredential, err.Category)
}

func TestValidationError_CreatesValidationCategoryError(t *testing.T) {
	err := ValidationError("query cannot be empty", nil)

	assert.Equal(t, CategoryValidation, err.Category)
}

func TestGuardBlocked_CreatesGuardCategoryError(t *testing.T) {
	err := GuardBlocked("response failed faithfulness check")

	assert.Equal(t, CategoryGuard, err.Category)
	assert.Equal(t, ErrCodeGuardBlocked, err.Code)
}

func TestStoreCorruption_CreatesFatalIOError(t *testing.T) {
	err := StoreCorruption("vector row count exceeds sidecar count", nil)

	assert.Equal(t, CategoryIO, err.Category)
	assert.Equal(t, SeverityFatal, err.Severity)
}

func TestIsRetryable_ChecksRetryableFlag(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "retryable Error",
			err:      New(ErrCodeTimedOut, "timeout", nil),
			expected: true,
		},
		{
			name:     "non-retryable Error",
			err:      New(ErrCodeFileNotFound, "not found", nil),
			expected: false,
		},
		{
			name:     "wrapped retryable error",
			err:      Wrap(ErrCodeTimedOut, errors.New("wrapped")),
			expected: true,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: false,
		},
		{
			name:     "nil error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryable(tt.err))
		})
	}
}

func TestIsFatal_ChecksFatalSeverity(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "fatal error",
			err:      New(ErrCodeStoreCorrupt, "store corrupt", nil),
			expected: true,
		},
		{
			name:     "disk full error",
			err:      New(ErrCodeDiskFull, "no space left", nil),
			expected: true,
		},
		{
			name:     "non-fatal error",
			err:      New(ErrCodeFileNotFound, "not found", nil),
			expected: false,
		},
		{
			name:     "standard error",
			err:      errors.New("standard error"),
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsFatal(tt.err))
		})
	}
}

func TestCode_ExtractsCode(t *testing.T) {
	assert.Equal(t, ErrCodeGuardBlocked, Code(New(ErrCodeGuardBlocked, "unsafe", nil)))
	assert.Equal(t, "", Code(errors.New("plain")))
}

func TestGetCategory_ExtractsCategory(t *testing.T) {
	assert.Equal(t, CategoryGuard, GetCategory(New(ErrCodeGuardBlocked, "unsafe", nil)))
	assert.Equal(t, Category(""), GetCategory(errors.New("plain")))
}
