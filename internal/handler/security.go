package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"github.com/openmart/orders-api/internal/domain/auth"
)

// APIKeyHeader carries the client's API key.
const APIKeyHeader = "X-API-Key"

type actorKey struct{}

// actorFromContext returns the actor resolved by RequireAuth. The zero Actor
// means the request was not authenticated.
func actorFromContext(ctx context.Context) auth.Actor {
	if a, ok := ctx.Value(actorKey{}).(auth.Actor); ok {
		return a
	}
	return auth.Actor{}
}

// Authenticator resolves an actor from an incoming request via HMAC-SHA256
// hashed API keys. Actor resolution is the system's only window into the
// external auth collaborator; everything behind it works off auth.Actor.
type Authenticator struct {
	apikeys auth.Repository
	pepper  []byte
}

// NewAuthenticator creates an Authenticator with the given API key
// repository and HMAC pepper.
func NewAuthenticator(apikeys auth.Repository, pepper []byte) *Authenticator {
	return &Authenticator{apikeys: apikeys, pepper: pepper}
}

// RequireAuth rejects requests without a valid API key and stores the
// resolved actor in the request context.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(APIKeyHeader)
		if key == "" {
			respondError(w, http.StatusUnauthorized, "missing API key", nil)
			return
		}

		actor, ok := a.resolve(r.Context(), key)
		if !ok {
			respondError(w, http.StatusUnauthorized, "invalid API key", nil)
			return
		}

		ctx := context.WithValue(r.Context(), actorKey{}, actor)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// resolve computes the HMAC-SHA256 of the provided key, looks it up, and
// performs a constant-time comparison to prevent timing side-channels.
func (a *Authenticator) resolve(ctx context.Context, key string) (auth.Actor, bool) {
	mac := hmac.New(sha256.New, a.pepper)
	mac.Write([]byte(key))
	hash := mac.Sum(nil)

	info, err := a.apikeys.FindByHash(ctx, hex.EncodeToString(hash))
	if err != nil {
		return auth.Actor{}, false
	}

	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return auth.Actor{}, false
	}
	if subtle.ConstantTimeCompare(hash, stored) != 1 {
		return auth.Actor{}, false
	}

	return info.Actor(), true
}
