package connection

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strings"
)

type httpStatuser interface {
	HTTPStatus() int
}

// ClassifyError maps a provider failure to an ErrorCode. HTTP status codes
// win over message heuristics when the error carries one.
func ClassifyError(err error) ErrorCode {
	if err == nil {
		return ErrorCodeUnknown
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorCodeTimeout
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return ErrorCodeTimeout
	}

	var hs httpStatuser
	if errors.As(err, &hs) {
		switch hs.HTTPStatus() {
		case http.StatusUnauthorized:
			return ErrorCodeAuthFailed
		case http.StatusForbidden:
			return ErrorCodeNoPermission
		case http.StatusTooManyRequests:
			return ErrorCodeRateLimit
		case http.StatusBadGateway, http.StatusServiceUnavailable:
			return ErrorCodeBankDown
		case http.StatusGatewayTimeout, http.StatusRequestTimeout:
			return ErrorCodeTimeout
		case http.StatusUnprocessableEntity:
			return ErrorCodeFormatMismatch
		}
	}

	msg := strings.ToUpper(err.Error())
	switch {
	case containsAny(msg, "WHITELIST", "IP ACCESS"):
		return ErrorCodeIPNotWhitelisted
	case containsAny(msg, "PERMISSION", "NOT AUTHORIZED", "FORBIDDEN"):
		return ErrorCodeNoPermission
	case containsAny(msg, "AUTH", "PASSWORD", "CREDENTIAL"):
		return ErrorCodeAuthFailed
	case containsAny(msg, "FORMAT", "PARSING", "DESERIALIZATION"):
		return ErrorCodeFormatMismatch
	case containsAny(msg, "RATE LIMIT", "TOO MANY REQUESTS"):
		return ErrorCodeRateLimit
	case containsAny(msg, "DOWN", "MAINTENANCE", "503"):
		return ErrorCodeBankDown
	case containsAny(msg, "TIMEOUT", "ETIMEDOUT", "ABORTED"):
		return ErrorCodeTimeout
	}
	return ErrorCodeUnknown
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
