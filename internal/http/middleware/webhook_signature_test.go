package middleware

import (
	"encoding/hex"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWebhookSignature(t *testing.T) {
	body := `{"formId":"F1"}`
	good := "sha256=" + hex.EncodeToString(Sign("whsec", []byte(body)))

	cases := []struct {
		name   string
		secret string
		header string
		want   int
	}{
		{"disabled", "", "", http.StatusOK},
		{"valid", "whsec", good, http.StatusOK},
		{"missing", "whsec", "", http.StatusUnauthorized},
		{"not hex", "whsec", "sha256=zz", http.StatusUnauthorized},
		{"wrong secret", "whsec", "sha256=" + hex.EncodeToString(Sign("other", []byte(body))), http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/webhook/intake", strings.NewReader(body))
			if tc.header != "" {
				req.Header.Set(SignatureHeader, tc.header)
			}
			rec := httptest.NewRecorder()
			var seen string
			WebhookSignature(tc.secret)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				b, _ := io.ReadAll(r.Body)
				seen = string(b)
			})).ServeHTTP(rec, req)

			assert.Equal(t, tc.want, rec.Code)
			if tc.want == http.StatusOK {
				assert.Equal(t, body, seen, "body is replayed to the handler")
			}
		})
	}
}
