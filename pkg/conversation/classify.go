package conversation

import (
	"errors"
	"net/http"
	"strings"

	"github.com/teslashibe/go-livevoice/pkg/transport"
)

// Matching is done on lowercased close reasons, error messages and status
// strings because the service reports the same condition through several
// channels.
var (
	modelPatterns = []string{
		"model not found",
		"is not found",
		"not_found",
		"is not supported for bidigeneratecontent",
		"unsupported model",
	}
	permissionPatterns = []string{
		"permission",
		"permission_denied",
		"unauthenticated",
		"unauthorized",
		"api key not valid",
		"invalid api key",
		"api_key_invalid",
	}
	quotaPatterns = []string{
		"quota",
		"resource_exhausted",
		"resource exhausted",
		"rate limit",
	}
	payloadPatterns = []string{
		"invalid argument",
		"invalid_argument",
		"invalid json",
		"malformed",
		"unknown name",
		"cannot find field",
		"invalid frame payload",
	}
)

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// classifyText picks a kind from a numeric code and free text. ok is false
// when nothing matched.
func classifyText(code int, text string) (ErrorKind, bool) {
	text = strings.ToLower(text)
	switch {
	case code == http.StatusNotFound || containsAny(text, modelPatterns):
		return KindModelUnavailable, true
	case code == http.StatusUnauthorized || code == http.StatusForbidden || containsAny(text, permissionPatterns):
		return KindPermissionDenied, true
	case code == http.StatusTooManyRequests || containsAny(text, quotaPatterns):
		return KindQuotaExceeded, true
	case code == http.StatusBadRequest || code == transport.CloseInvalidPayload || containsAny(text, payloadPatterns):
		return KindMalformedPayload, true
	}
	return "", false
}

func newClassified(kind ErrorKind, code int, status, reason string, cause error) *ConnectionError {
	e := &ConnectionError{
		Kind:   kind,
		Code:   code,
		Status: status,
		Reason: reason,
		Cause:  cause,
	}
	if kind == KindModelUnavailable {
		e.Suggestions = append([]string(nil), KnownModels...)
	}
	return e
}

// classifyPayload classifies a structured error message from the service.
func classifyPayload(p *ErrorPayload) *ConnectionError {
	code := int(p.Code)
	kind, ok := classifyText(code, p.Status+" "+p.Message)
	if !ok {
		kind = KindConnectionError
	}
	return newClassified(kind, code, p.Status, p.Message, nil)
}

// classifyTransport classifies a connection-level failure: a dial error, a
// close frame, or anything else the transport returned.
func classifyTransport(err error) *ConnectionError {
	var ce *transport.CloseError
	if errors.As(err, &ce) {
		kind, ok := classifyText(ce.Code, ce.Reason)
		if !ok {
			kind = KindConnectionClosed
		}
		return newClassified(kind, ce.Code, "", ce.Reason, err)
	}

	var de *transport.DialError
	if errors.As(err, &de) {
		kind := KindConnectionError
		switch de.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden:
			kind = KindPermissionDenied
		case http.StatusTooManyRequests:
			kind = KindQuotaExceeded
		}
		return newClassified(kind, de.StatusCode, "", de.Cause.Error(), err)
	}

	if errors.Is(err, transport.ErrClosed) {
		return newClassified(KindConnectionClosed, 0, "", err.Error(), err)
	}
	return newClassified(KindConnectionError, 0, "", err.Error(), err)
}
