// README: Unsigned token verifier for memory-store runs without a Firebase project.
package infra

import (
	"context"
	"errors"
	"strings"
)

var ErrInvalidToken = errors.New("invalid token")

// LocalVerifier trusts the bearer token as "uid" or "uid:role". It exists so
// the in-memory mode and the smoke runner work without Firebase; never use it
// with a persistent store.
type LocalVerifier struct{}

var _ TokenVerifier = LocalVerifier{}

func (LocalVerifier) VerifyIDToken(_ context.Context, idToken string) (*FirebaseToken, error) {
	uid, role, _ := strings.Cut(strings.TrimSpace(idToken), ":")
	if uid == "" {
		return nil, ErrInvalidToken
	}
	claims := map[string]interface{}{}
	if role != "" {
		claims["role"] = role
	}
	return &FirebaseToken{UID: uid, Claims: claims}, nil
}
