package web

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/dukex/conduit/pkg/identity"
	"github.com/gofiber/fiber/v3"
)

const identityKey = "conduit.identity"

// Credentials maps user names to passwords accepted by basic authentication.
type Credentials map[string]string

// ParseCredentials reads user:password pairs.
func ParseCredentials(pairs []string) (Credentials, error) {
	creds := make(Credentials, len(pairs))

	for _, pair := range pairs {
		user, password, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || user == "" {
			return nil, fmt.Errorf("invalid basic auth entry %q, want user:password", pair)
		}

		creds[user] = password
	}

	return creds, nil
}

// Authenticate resolves the caller identity from the Authorization header.
// With no credentials configured every caller is admitted, anonymous or not;
// otherwise a matching user and password are required.
func Authenticate(creds Credentials) fiber.Handler {
	return func(c fiber.Ctx) error {
		header := c.Get(fiber.HeaderAuthorization)

		id, err := identity.ParseAuthorization(header)
		if err != nil {
			if isAuthorizationError(err) {
				return unauthorized(c, err.Error())
			}

			return internalError(c, err)
		}

		if len(creds) > 0 && !creds.match(header) {
			return unauthorized(c, "invalid credentials")
		}

		c.Locals(identityKey, id)

		return c.Next()
	}
}

func (creds Credentials) match(header string) bool {
	_, encoded, ok := strings.Cut(header, " ")
	if !ok {
		return false
	}

	user, password, err := identity.DecodeBasic(encoded)
	if err != nil {
		return false
	}

	expected, ok := creds[user]
	if !ok {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(expected), []byte(password)) == 1
}

// callerIdentity returns the identity stored by Authenticate, or anonymous.
func callerIdentity(c fiber.Ctx) *identity.Identity {
	if id, ok := c.Locals(identityKey).(*identity.Identity); ok {
		return id
	}

	return &identity.Identity{Name: identity.Anonymous}
}
