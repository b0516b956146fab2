// Package identity resolves the caller of a request and runs work on its behalf.
package identity

import (
	"encoding/base64"
	"errors"
	"strings"
)

// ErrUnsupportedScheme is returned for authorization schemes other than basic.
var ErrUnsupportedScheme = errors.New("unsupported authorization scheme")

// ErrMalformedAuthorization is returned when a basic header cannot be decoded.
var ErrMalformedAuthorization = errors.New("malformed authorization header")

// Anonymous is the name used when a request carries no credentials.
const Anonymous = "anonymous"

// Identity describes who asked for an operation. Authorization keeps the raw
// header so it can be forwarded on outgoing calls.
type Identity struct {
	Name          string `json:"name"`
	Scheme        string `json:"scheme,omitempty"`
	Authorization string `json:"-"`
}

// IsAnonymous reports whether no credentials were presented.
func (i *Identity) IsAnonymous() bool {
	return i == nil || i.Name == "" || i.Name == Anonymous
}

// String returns the identity name.
func (i *Identity) String() string {
	if i.IsAnonymous() {
		return Anonymous
	}

	return i.Name
}

// ParseAuthorization parses an Authorization header. An empty header yields
// the anonymous identity; only the basic scheme is understood.
func ParseAuthorization(header string) (*Identity, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return &Identity{Name: Anonymous}, nil
	}

	scheme, credentials, ok := strings.Cut(header, " ")
	if !ok {
		return nil, ErrMalformedAuthorization
	}

	if !strings.EqualFold(scheme, "basic") {
		return nil, ErrUnsupportedScheme
	}

	user, _, err := DecodeBasic(credentials)
	if err != nil {
		return nil, err
	}

	return &Identity{Name: user, Scheme: "basic", Authorization: header}, nil
}

// DecodeBasic decodes the credentials part of a basic header.
func DecodeBasic(credentials string) (string, string, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(credentials))
	if err != nil {
		return "", "", ErrMalformedAuthorization
	}

	user, password, ok := strings.Cut(string(raw), ":")
	if !ok || user == "" {
		return "", "", ErrMalformedAuthorization
	}

	return user, password, nil
}

// BasicAuthorization builds a basic Authorization header value.
func BasicAuthorization(user, password string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+password))
}
