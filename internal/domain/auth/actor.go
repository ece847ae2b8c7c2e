package auth

// Role distinguishes ordinary customers from administrators.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleAdmin    Role = "admin"
)

// Actor identifies who is performing an operation. Guest requests carry the
// zero Actor: no user ID and no elevated role.
type Actor struct {
	UserID string
	Role   Role
}

// IsAdmin reports whether the actor carries administrative privileges.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// IsGuest reports whether the actor is unauthenticated.
func (a Actor) IsGuest() bool {
	return a.UserID == "" && a.Role == ""
}

// Owns reports whether the actor is the registered owner of a resource
// attributed to userID. Guests own nothing.
func (a Actor) Owns(userID string) bool {
	return a.UserID != "" && a.UserID == userID
}
