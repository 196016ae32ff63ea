package auth

import "time"

// User is a stored account. HashedPassword never leaves the package boundary
// in responses; use Public for that.
type User struct {
	ID             string
	Email          string
	FullName       string
	HashedPassword string
	IsActive       bool
	CreatedAt      time.Time
}

// PublicUser is the response view of a User.
type PublicUser struct {
	Email    string `json:"email"`
	FullName string `json:"full_name,omitempty"`
	IsActive bool   `json:"is_active"`
}

func (u User) Public() PublicUser {
	return PublicUser{Email: u.Email, FullName: u.FullName, IsActive: u.IsActive}
}

// NewUser is the payload for creating an account. A nil IsActive means true.
type NewUser struct {
	Email    string `json:"email"`
	FullName string `json:"full_name"`
	IsActive *bool  `json:"is_active"`
	Password string `json:"password"`
}

type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int64  `json:"expires_in"`
}
