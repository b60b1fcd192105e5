package gemini

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/nexusgate/gateway/types"
)

func readErrorMessage(body io.Reader) string {
	data, err := io.ReadAll(body)
	if err != nil {
		return "failed to read error response"
	}
	var er errorResponse
	if err := json.Unmarshal(data, &er); err == nil && er.Error.Message != "" {
		return er.Error.Message
	}
	return string(data)
}

func mapHTTPError(status int, msg string) *types.Error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return types.NewError(types.ErrAuthentication, msg).WithHTTPStatus(status).WithProvider("gemini")
	case http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).WithHTTPStatus(status).WithRetryable(true).WithProvider("gemini")
	case http.StatusBadRequest:
		return types.NewError(types.ErrBadRequest, msg).WithHTTPStatus(status).WithProvider("gemini")
	case http.StatusServiceUnavailable, http.StatusBadGateway, http.StatusGatewayTimeout:
		return types.NewError(types.ErrProviderUnavailable, msg).WithHTTPStatus(status).WithRetryable(true).WithProvider("gemini")
	default:
		return types.NewError(types.ErrUpstreamError, msg).WithHTTPStatus(status).WithRetryable(status >= 500).WithProvider("gemini")
	}
}

func upstreamError(err error) *types.Error {
	return types.NewError(types.ErrUpstreamError, err.Error()).WithHTTPStatus(http.StatusBadGateway).WithRetryable(true).WithProvider("gemini")
}
