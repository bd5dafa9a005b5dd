package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appError *AppError
		want     string
	}{
		{
			name: "basic error",
			appError: &AppError{
				Type:    ErrTypeConfig,
				Message: "configuration is invalid",
			},
			want: "config: configuration is invalid",
		},
		{
			name: "error with code",
			appError: &AppError{
				Type:    ErrTypeFetch,
				Message: "download failed",
				Code:    "HTTP404",
			},
			want: "fetch: download failed: code=HTTP404",
		},
		{
			name: "error with cause",
			appError: &AppError{
				Type:    ErrTypeListingRequest,
				Message: "listing call failed",
				Cause:   errors.New("network timeout"),
			},
			want: "listing_request: listing call failed: cause=network timeout",
		},
		{
			name: "context keys are sorted",
			appError: &AppError{
				Type:    ErrTypeRelayTransfer,
				Message: "upload failed",
				Context: map[string]interface{}{
					"host": "relay",
					"file": "a.mp3",
				},
			},
			want: "relay_transfer: upload failed: context={file=a.mp3, host=relay}",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.appError.Error())
		})
	}
}

func TestConstructors(t *testing.T) {
	cause := errors.New("boom")

	tests := []struct {
		name string
		err  *AppError
		typ  ErrorType
	}{
		{"credential", CredentialUnavailableError("no token"), ErrTypeCredentialUnavailable},
		{"listing request", ListingRequestError("get", cause), ErrTypeListingRequest},
		{"listing parse", ListingParseError("decode", cause), ErrTypeListingParse},
		{"duplicate", ClaimDuplicateError("42"), ErrTypeClaimDuplicate},
		{"unmatched", RouteUnmatchedError("42"), ErrTypeRouteUnmatched},
		{"fetch", FetchError("get", cause), ErrTypeFetch},
		{"relay", RelayTransferError("put", cause), ErrTypeRelayTransfer},
		{"connection", ConnectionError("dial", cause), ErrTypeConnection},
		{"validation", ValidationError("bad"), ErrTypeValidation},
		{"config", ConfigError("bad"), ErrTypeConfig},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.err.Type)
			assert.True(t, IsType(tt.err, tt.typ))
		})
	}
}

func TestIsType_Wrapped(t *testing.T) {
	err := fmt.Errorf("cycle abc: %w", CredentialUnavailableError("token file empty"))

	assert.True(t, IsType(err, ErrTypeCredentialUnavailable))
	assert.False(t, IsType(err, ErrTypeFetch))
	assert.False(t, IsType(nil, ErrTypeFetch))
	assert.False(t, IsType(errors.New("plain"), ErrTypeFetch))
}

func TestGetType(t *testing.T) {
	assert.Equal(t, ErrorType(""), GetType(nil))
	assert.Equal(t, ErrTypeInternal, GetType(errors.New("plain")))
	assert.Equal(t, ErrTypeListingParse, GetType(ListingParseError("x", nil)))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("root")
	err := FetchError("download", cause).WithContext("id", "1").WithCode("E1")

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "E1", err.Code)
	assert.Equal(t, "1", err.Context["id"])
}
