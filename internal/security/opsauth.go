package security

import (
	"crypto/subtle"
	"net/http"

	"github.com/alexedwards/argon2id"
	"github.com/rs/zerolog"

	"github.com/noah-isme/printdesk/internal/common"
)

// OpsAuth guards operational endpoints such as /metrics with HTTP basic auth.
// PasswordHash is an argon2id hash in PHC format; when empty the guard is off.
type OpsAuth struct {
	User         string
	PasswordHash string
	Realm        string
}

// HashOpsPassword produces a hash suitable for OpsAuth.PasswordHash.
func HashOpsPassword(password string, params *argon2id.Params) (string, error) {
	if params == nil {
		params = argon2id.DefaultParams
	}
	return argon2id.CreateHash(password, params)
}

// Enabled reports whether credentials are configured.
func (o OpsAuth) Enabled() bool {
	return o.PasswordHash != ""
}

// Middleware rejects requests without matching basic auth credentials.
func (o OpsAuth) Middleware(next http.Handler) http.Handler {
	if !o.Enabled() {
		return next
	}
	realm := o.Realm
	if realm == "" {
		realm = "ops"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if ok && subtle.ConstantTimeCompare([]byte(user), []byte(o.User)) == 1 {
			match, err := argon2id.ComparePasswordAndHash(pass, o.PasswordHash)
			if err != nil {
				zerolog.Ctx(r.Context()).Error().Err(err).Msg("ops_auth_hash_invalid")
				common.JSONError(w, http.StatusInternalServerError, common.CodeInternal, "ops auth misconfigured", nil)
				return
			}
			if match {
				next.ServeHTTP(w, r)
				return
			}
		}
		w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`", charset="UTF-8"`)
		common.JSONError(w, http.StatusUnauthorized, common.CodeUnauthorized, "ops credentials required", nil)
	})
}
