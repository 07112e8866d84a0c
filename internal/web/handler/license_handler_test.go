package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/freekieb7/formlink/internal/license"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyLicense(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	expired := time.Now().Add(-time.Hour)
	_, err := env.licenses.Create(ctx, license.License{Key: "fl_valid", BoundDomain: "*.example.com"})
	require.NoError(t, err)
	_, err = env.licenses.Create(ctx, license.License{Key: "fl_expired", BoundDomain: "*", ExpiresAt: &expired})
	require.NoError(t, err)

	tests := []struct {
		name string
		body string
		want license.Result
	}{
		{name: "subdomain", body: `{"licenseKey":"fl_valid","domain":"Forms.Example.com"}`, want: license.Result{Valid: true}},
		{name: "apex is not a subdomain", body: `{"licenseKey":"fl_valid","domain":"example.com"}`, want: license.Result{Reason: license.ReasonDomainNotAuthorized}},
		{name: "expired", body: `{"licenseKey":"fl_expired","domain":"a.test"}`, want: license.Result{Reason: license.ReasonExpired}},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(http.MethodPost, "/api/licenses/verify", tt.body, nil, "X-Forwarded-For", "198.51.100."+string(rune('1'+i)))
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

			var got license.Result
			require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &got))
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestVerifyLicenseBadRequests(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(http.MethodPost, "/api/licenses/verify", `{"licenseKey":"fl_valid"}`, nil, "X-Forwarded-For", "198.51.100.20")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "domain")

	rr = env.do(http.MethodPost, "/api/licenses/verify", `{not json`, nil, "X-Forwarded-For", "198.51.100.21")
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(http.MethodGet, "/api/licenses/verify", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
}

func TestVerifyLicenseRateLimited(t *testing.T) {
	env := newTestEnv(t)
	body := `{"licenseKey":"fl_unknown","domain":"a.test"}`

	for i := 0; i < 3; i++ {
		rr := env.do(http.MethodPost, "/api/licenses/verify", body, nil, "X-Forwarded-For", "203.0.113.9")
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), license.ReasonUnknownKey)
	}

	rr := env.do(http.MethodPost, "/api/licenses/verify", body, nil, "X-Forwarded-For", "203.0.113.9")
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
}
