package domain

// Role represents the user's permission level in the system.
type Role string

const (
	// RoleAdmin grants full administrative access, including triage of requests.
	RoleAdmin Role = "admin"
	// RoleUser can create and manage their own requests.
	RoleUser Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// User represents an authenticated user account in the system.
type User struct {
	Timestamps
	ID           string `json:"id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	PasswordHash string `json:"-"` // argon2id, never serialized
	Role         Role   `json:"role"`
	Active       bool   `json:"active"`
}

// IsAdmin returns true if the user has administrative privileges.
func (u *User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// Actor returns the identity used by the lifecycle and import layers.
func (u *User) Actor() Actor {
	return Actor{UserID: u.ID, Username: u.Username, Role: u.Role}
}

// Actor is the caller on whose behalf a state-changing operation runs.
type Actor struct {
	UserID   string
	Username string
	Role     Role
}

// IsAdmin reports whether the actor may perform administrative transitions.
func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// SystemActor is used by operator tooling that runs outside a user session.
func SystemActor(userID string) Actor {
	return Actor{UserID: userID, Username: "system", Role: RoleAdmin}
}
