// Package auth checks the static client credentials presented to the gateway.
package auth

import "crypto/subtle"

// Header names carrying the credentials.
const (
	HeaderClientID = "X-CLIENT-ID"
	HeaderAPIKey   = "X-API-KEY"
)

// Authenticator validates a client id and secret pair.
type Authenticator interface {
	Authenticate(clientID, apiKey string) bool
}

// Credentials maps client ids to their shared secret.
type Credentials map[string]string

// Authenticate succeeds only when clientID is known and apiKey equals its
// secret. Empty ids never authenticate.
func (c Credentials) Authenticate(clientID, apiKey string) bool {
	if clientID == "" {
		return false
	}
	secret, ok := c[clientID]
	if !ok || secret == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(secret), []byte(apiKey)) == 1
}
