package middleware

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/alanyoungcy/arbiter/internal/crypto"
)

// maxAdminBody bounds how much request body is buffered for signature
// verification.
const maxAdminBody = 1 << 20 // 1 MiB

// adminMaxSkew is the accepted clock drift between client and server
// timestamps on signed admin requests.
const adminMaxSkew = 5 * time.Minute

// AdminAuth returns middleware that verifies the HMAC request signature
// carried in the admin headers. The body is buffered so the downstream
// handler can still read it. If auth is nil, admin endpoints are disabled and
// every request is rejected.
func AdminAuth(auth *crypto.HMACAuth) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				writeUnauthorized(w, "admin API is not configured")
				return
			}

			body, err := io.ReadAll(io.LimitReader(r.Body, maxAdminBody))
			if err != nil {
				writeUnauthorized(w, "unreadable request body")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))

			err = auth.Verify(
				r.Method, r.URL.Path, string(body),
				r.Header.Get(crypto.HeaderAPIKey),
				r.Header.Get(crypto.HeaderTimestamp),
				r.Header.Get(crypto.HeaderSignature),
				adminMaxSkew,
			)
			if err != nil {
				writeUnauthorized(w, "invalid request signature")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
