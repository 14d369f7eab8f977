package auth

import (
	"context"
	"net/url"
)

const (
	DefaultDisplayName = "User"
	avatarBaseURL      = "https://ui-avatars.com/api/"
)

// User is the signed-in person shown by the voice UI.
type User struct {
	ID          string `json:"id" yaml:"id"`
	DisplayName string `json:"displayName" yaml:"displayName"`
	AvatarURL   string `json:"avatarUrl" yaml:"avatarUrl"`
	Email       string `json:"email,omitempty" yaml:"email,omitempty"`
}

// Provider reports the current user. A signed-out provider returns nil, nil.
type Provider interface {
	CurrentUser(ctx context.Context) (*User, error)
}

// AvatarURL returns the generated initials avatar for name.
func AvatarURL(name string) string {
	q := url.Values{}
	q.Set("name", name)
	q.Set("background", "random")
	return avatarBaseURL + "?" + q.Encode()
}

// newUser fills the display defaults for missing profile fields.
func newUser(id, name, avatar, email string) *User {
	if name == "" {
		name = DefaultDisplayName
	}
	if avatar == "" {
		avatar = AvatarURL(name)
	}
	return &User{ID: id, DisplayName: name, AvatarURL: avatar, Email: email}
}
