package security

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alexedwards/argon2id"
	"github.com/stretchr/testify/require"
)

var testParams = &argon2id.Params{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestOpsAuthDisabledWithoutHash(t *testing.T) {
	rr := httptest.NewRecorder()
	OpsAuth{}.Middleware(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
}

func TestOpsAuthChecksCredentials(t *testing.T) {
	hash, err := HashOpsPassword("s3cret", testParams)
	require.NoError(t, err)
	handler := OpsAuth{User: "ops", PasswordHash: hash}.Middleware(okHandler())

	cases := []struct {
		name string
		user string
		pass string
		set  bool
		want int
	}{
		{name: "valid", user: "ops", pass: "s3cret", set: true, want: http.StatusOK},
		{name: "wrong password", user: "ops", pass: "nope", set: true, want: http.StatusUnauthorized},
		{name: "wrong user", user: "root", pass: "s3cret", set: true, want: http.StatusUnauthorized},
		{name: "missing", want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
			if tc.set {
				req.SetBasicAuth(tc.user, tc.pass)
			}
			rr := httptest.NewRecorder()
			handler.ServeHTTP(rr, req)
			require.Equal(t, tc.want, rr.Code)
			if tc.want == http.StatusUnauthorized {
				require.Contains(t, rr.Header().Get("WWW-Authenticate"), `realm="ops"`)
			}
		})
	}
}

func TestOpsAuthMalformedHash(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.SetBasicAuth("ops", "x")
	rr := httptest.NewRecorder()
	OpsAuth{User: "ops", PasswordHash: "not-a-hash"}.Middleware(okHandler()).ServeHTTP(rr, req)
	require.Equal(t, http.StatusInternalServerError, rr.Code)
}
