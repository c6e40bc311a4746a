package logger

import (
	"log/slog"
	"strconv"
	"time"
)

// Helpers return an empty slog.Attr for nil/zero inputs where it matters;
// slog drops empty attributes, so call sites need no nil checks.

// Group creates a group of attributes under a single key.
func Group(name string, attrs ...slog.Attr) slog.Attr {
	return slog.Attr{Key: name, Value: slog.GroupValue(attrs...)}
}

// Error creates an attribute for a single error under the key "error".
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.Any("error", err)
}

// Errors groups multiple non-nil errors under the key "errors", keyed by position.
func Errors(errs ...error) slog.Attr {
	as := make([]slog.Attr, 0, len(errs))
	for i, err := range errs {
		if err != nil {
			as = append(as, slog.Any(strconv.Itoa(i), err))
		}
	}
	if len(as) == 0 {
		return slog.Attr{}
	}
	return slog.Attr{Key: "errors", Value: slog.GroupValue(as...)}
}

// Duration creates an attribute for a duration.
func Duration(d time.Duration) slog.Attr {
	return slog.Duration("duration", d)
}

// Elapsed logs the time passed since start.
func Elapsed(start time.Time) slog.Attr {
	return slog.Duration("elapsed", time.Since(start))
}

// RequestID creates an attribute for HTTP request IDs.
func RequestID(id string) slog.Attr {
	if id == "" {
		return slog.Attr{}
	}
	return slog.String("request_id", id)
}

func Method(method string) slog.Attr { return slog.String("method", method) }
func Path(path string) slog.Attr { return slog.String("path", path) }
func StatusCode(code int) slog.Attr { return slog.Int("status_code", code) }
func RemoteAddr(addr string) slog.Attr { return slog.String("remote_addr", addr) }
func BytesOut(n int64) slog.Attr { return slog.Int64("bytes_out", n) }
func Component(name string) slog.Attr { return slog.String("component", name) }
func Event(name string) slog.Attr { return slog.String("event", name) }
func Action(action string) slog.Attr { return slog.String("action", action) }
func Result(result string) slog.Attr { return slog.String("result", result) }
func Count(key string, n int) slog.Attr { return slog.Int(key, n) }
func RetryCount(count int) slog.Attr { return slog.Int("retry_count", count) }
func Identifier(value string) slog.Attr { return slog.String("identifier", value) }
func Vendor(name string) slog.Attr { return slog.String("vendor", name) }
func Problem(code string) slog.Attr { return slog.String("problem", code) }
func Zone(zone string) slog.Attr { return slog.String("zone", zone) }
func TaskID(id string) slog.Attr { return slog.String("task_id", id) }
func OrderID(id int64) slog.Attr { return slog.Int64("order_id", id) }
func CertID(id int64) slog.Attr { return slog.Int64("cert_id", id) }
func DelegationID(id int64) slog.Attr { return slog.Int64("delegation_id", id) }
func UserID(id int64) slog.Attr { return slog.Int64("user_id", id) }

// AccountID logs an ACME account key id (JWK thumbprint).
func AccountID(keyID string) slog.Attr {
	if keyID == "" {
		return slog.Attr{}
	}
	return slog.String("account_id", keyID)
}

// Transition logs a state change as "from->to".
func Transition(from, to string) slog.Attr {
	return slog.Group("transition", slog.String("from", from), slog.String("to", to))
}

// Key creates a generic key-value attribute.
func Key(key string, value any) slog.Attr {
	if value == nil {
		return slog.Attr{}
	}
	return slog.Any(key, value)
}
