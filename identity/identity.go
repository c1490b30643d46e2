// Package identity talks to the external identity service that owns users,
// credentials and token lifetimes. The gateways never decide who a user is;
// they ask this service.
package identity

import (
	"strings"

	"golang.org/x/oauth2"
)

// RoleType is the dashboard role assigned by the identity service.
type RoleType string

const (
	RoleAdmin        RoleType = "admin"        // Can register staff accounts
	RoleManager      RoleType = "manager"      // Front office and back office modules
	RoleReceptionist RoleType = "receptionist" // Front desk modules only
)

// Identity is the user record returned by the identity service. It is never
// persisted by the gateway.
type Identity struct {
	ID        string   `json:"id"`
	Username  string   `json:"username"`
	Role      RoleType `json:"role"`
	Email     string   `json:"email,omitempty"`
	AvatarURL string   `json:"avatarUrl,omitempty"`
}

func (i *Identity) IsAdmin() bool {
	return i != nil && strings.EqualFold(string(i.Role), string(RoleAdmin))
}

// LoginResult is a fully shaped successful credential exchange.
type LoginResult struct {
	User  *Identity
	Token *oauth2.Token
}

// RegisterRequest is the body accepted by the registration endpoint.
type RegisterRequest struct {
	Username string   `json:"username"`
	Password string   `json:"password"`
	Email    string   `json:"email"`
	Role     RoleType `json:"role"`
}

// Missing returns the names of required fields that are empty.
func (r RegisterRequest) Missing() []string {
	var missing []string
	if strings.TrimSpace(r.Username) == "" {
		missing = append(missing, "username")
	}
	if r.Password == "" {
		missing = append(missing, "password")
	}
	if strings.TrimSpace(r.Email) == "" {
		missing = append(missing, "email")
	}
	if strings.TrimSpace(string(r.Role)) == "" {
		missing = append(missing, "role")
	}
	return missing
}
