package httpapi

import (
	"context"
	"encoding/hex"
	"net/http"

	"lukechampine.com/frand"
)

type ctxKey int

const requestIDKey ctxKey = 1

func newRequestID() string {
	var b [6]byte
	frand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// RequestID tags every request with an ID, honoring one supplied by the
// caller, and echoes it back in the response headers.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rid := r.Header.Get("X-Request-ID")
		if rid == "" || len(rid) > 32 {
			rid = newRequestID()
		}
		w.Header().Set("X-Request-ID", rid)
		ctx := context.WithValue(r.Context(), requestIDKey, rid)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID pulls the request ID back out of a context.
func GetRequestID(ctx context.Context) string {
	if s, ok := ctx.Value(requestIDKey).(string); ok {
		return s
	}
	return ""
}
