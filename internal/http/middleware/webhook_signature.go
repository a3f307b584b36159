package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw request body.
const SignatureHeader = "X-Webhook-Signature"

const maxSignedBody = 1 << 20

// WebhookSignature rejects requests whose body does not match
// "sha256=<hex>" under secret. An empty secret disables the check.
func WebhookSignature(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if secret == "" {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := strings.TrimSpace(r.Header.Get(SignatureHeader))
			if !strings.HasPrefix(header, "sha256=") {
				writeError(w, http.StatusUnauthorized, "missing webhook signature")
				return
			}
			got, err := hex.DecodeString(strings.TrimPrefix(header, "sha256="))
			if err != nil {
				writeError(w, http.StatusUnauthorized, "malformed webhook signature")
				return
			}
			body, err := io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
			if err != nil {
				writeError(w, http.StatusBadRequest, "unreadable body")
				return
			}
			if len(body) > maxSignedBody {
				writeError(w, http.StatusRequestEntityTooLarge, "body too large")
				return
			}
			if !hmac.Equal(got, Sign(secret, body)) {
				writeError(w, http.StatusUnauthorized, "invalid webhook signature")
				return
			}
			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

// Sign computes the raw HMAC-SHA256 of body.
func Sign(secret string, body []byte) []byte {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return mac.Sum(nil)
}
