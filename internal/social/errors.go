package social

import "strings"

// Sanitize maps an arbitrary client error to a fixed, safe message for
// surfaces that leave the process (HTTP responses, notifications). Raw
// errors can carry file paths, tokens, or upstream internals; only the
// structured logs keep those.
func Sanitize(err error) string {
	if err == nil {
		return ""
	}
	s := strings.ToLower(err.Error())
	switch {
	case strings.Contains(s, "token"), strings.Contains(s, "credential"), strings.Contains(s, "auth"):
		return "Authentication failed"
	case strings.Contains(s, "timeout"), strings.Contains(s, "deadline"):
		return "Request timed out"
	case strings.Contains(s, "connection"), strings.Contains(s, "network"):
		return "Connection error"
	case strings.Contains(s, "rate limit"), strings.Contains(s, "too many"):
		return "Rate limit exceeded"
	case strings.Contains(s, "not found"), strings.Contains(s, "404"):
		return "Resource not found"
	case strings.Contains(s, "permission"), strings.Contains(s, "forbidden"), strings.Contains(s, "403"):
		return "Permission denied"
	default:
		return "Service temporarily unavailable"
	}
}
