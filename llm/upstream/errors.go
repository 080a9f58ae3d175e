package upstream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/syranol/inference-gateway/types"
)

// maxErrorBody caps how much of an error response is read.
const maxErrorBody = 64 << 10

// MapHTTPError converts an upstream error status into a types.Error. Only
// 502, 503 and 504 are retryable.
func MapHTTPError(status int, msg string, provider string) *types.Error {
	message := fmt.Sprintf("Upstream error %d: %s", status, msg)
	var code types.ErrorCode
	switch status {
	case http.StatusUnauthorized:
		code = types.ErrUnauthorized
	case http.StatusForbidden:
		code = types.ErrForbidden
	case http.StatusTooManyRequests:
		code = types.ErrRateLimited
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		code = types.ErrInvalidRequest
	case http.StatusNotFound:
		code = types.ErrNotFound
	case http.StatusGatewayTimeout:
		code = types.ErrUpstreamTimeout
	case http.StatusServiceUnavailable:
		code = types.ErrServiceUnavailable
	default:
		code = types.ErrUpstreamError
	}
	return types.NewError(code, message).
		WithHTTPStatus(status).
		WithRetryable(isRetryableStatus(status)).
		WithProvider(provider)
}

func isRetryableStatus(status int) bool {
	switch status {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// ReadErrorMessage extracts a readable message from an error response body.
func ReadErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, maxErrorBody))
	if err != nil {
		return "failed to read error response"
	}

	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(data, &errResp); err == nil {
		if errResp.Error.Message != "" {
			if errResp.Error.Type != "" {
				return fmt.Sprintf("%s (type: %s)", errResp.Error.Message, errResp.Error.Type)
			}
			return errResp.Error.Message
		}
		if errResp.Detail != "" {
			return errResp.Detail
		}
	}

	return string(data)
}
