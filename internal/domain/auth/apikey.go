package auth

import "context"

// APIKeyInfo holds the identity and role data bound to a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	UserID  string
	Role    Role
}

// Actor converts the key binding into the actor it authenticates.
func (k *APIKeyInfo) Actor() Actor {
	return Actor{UserID: k.UserID, Role: k.Role}
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}
