package response

import (
	"encoding/json"
	"net/http"

	"github.com/dmitrymomot/acmefront/core/handler"
)

// JSON renders v as application/json with 200 OK.
func JSON(v any) handler.Response {
	return JSONWithStatus(v, http.StatusOK)
}

// JSONWithStatus renders v with the given status; 0 means 200 (or 204 for nil).
func JSONWithStatus(v any, status int) handler.Response {
	return TypedJSON(v, status, "application/json")
}

// TypedJSON renders v as JSON under a custom media type such as application/problem+json.
func TypedJSON(v any, status int, contentType string) handler.Response {
	return func(w http.ResponseWriter, r *http.Request) error {
		if status == 0 {
			status = http.StatusOK
			if v == nil {
				status = http.StatusNoContent
			}
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)

		if status == http.StatusNoContent || status == http.StatusNotModified || r.Method == http.MethodHead {
			return nil
		}
		return json.NewEncoder(w).Encode(v)
	}
}

// Bytes writes raw content with the given media type and status.
func Bytes(content []byte, contentType string, status int) handler.Response {
	return func(w http.ResponseWriter, r *http.Request) error {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		if status == 0 {
			status = http.StatusOK
		}
		w.WriteHeader(status)
		if len(content) == 0 || r.Method == http.MethodHead {
			return nil
		}
		_, err := w.Write(content)
		return err
	}
}

// NoContent writes 204.
func NoContent() handler.Response {
	return Status(http.StatusNoContent)
}

// Status writes an empty response with code.
func Status(code int) handler.Response {
	return func(w http.ResponseWriter, r *http.Request) error {
		if code == 0 {
			code = http.StatusOK
		}
		w.WriteHeader(code)
		return nil
	}
}

// Error defers err to the router's error handler.
func Error(err error) handler.Response {
	return func(w http.ResponseWriter, r *http.Request) error {
		return err
	}
}

// WithHeaders sets headers before resp renders.
func WithHeaders(resp handler.Response, headers map[string]string) handler.Response {
	if resp == nil || len(headers) == 0 {
		return resp
	}
	return func(w http.ResponseWriter, r *http.Request) error {
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		return resp(w, r)
	}
}

// WithHeader adds one header value (repeatable, e.g. Link) before resp renders.
func WithHeader(resp handler.Response, key, value string) handler.Response {
	if resp == nil || value == "" {
		return resp
	}
	return func(w http.ResponseWriter, r *http.Request) error {
		w.Header().Add(key, value)
		return resp(w, r)
	}
}
