// Package authmw provides bearer token authentication for the session API.
package authmw

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"
)

const scheme = "Bearer "

// BearerToken returns middleware that accepts requests whose Authorization
// header carries any of tokens. Several tokens allow rotation without
// downtime. Blank tokens are ignored; at least one must remain.
func BearerToken(tokens ...string) func(http.Handler) http.Handler {
	expected := make([][]byte, 0, len(tokens))
	for _, t := range tokens {
		if t = strings.TrimSpace(t); t != "" {
			expected = append(expected, []byte(t))
		}
	}
	if len(expected) == 0 {
		panic(xerrors.New("authmw: at least one token is required"))
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			if !strings.HasPrefix(auth, scheme) {
				reject(w, r, "missing_header", `{"error":"missing or malformed authorization header"}`)
				return
			}

			if !matchAny([]byte(auth[len(scheme):]), expected) {
				reject(w, r, "invalid_token", `{"error":"invalid token"}`)
				return
			}

			trace.SpanFromContext(r.Context()).SetAttributes(attribute.String("auth.result", "ok"))
			next.ServeHTTP(w, r)
		})
	}
}

// matchAny compares got against every token so timing does not reveal
// which one matched.
func matchAny(got []byte, expected [][]byte) bool {
	ok := 0
	for _, e := range expected {
		ok |= subtle.ConstantTimeCompare(got, e)
	}
	return ok == 1
}

func reject(w http.ResponseWriter, r *http.Request, reason, body string) {
	ctx := r.Context()
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("auth.result", reason))
	if L := log.FromContext(ctx); L != nil {
		L.Warn(ctx, "request unauthorized", "reason", reason, "path", r.URL.Path)
	}
	w.Header().Set("WWW-Authenticate", `Bearer realm="medtriage"`)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(body))
}
