package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"glgapp.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// authenticate verifies the bearer token without any ownership requirement.
func (a *API) authenticate(r *http.Request) (auth.Identity, error) {
	if a == nil || a.verifier == nil {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	token, err := extractBearerToken(r.Header.Get(authHeader))
	if err != nil {
		return auth.Identity{}, auth.ErrInvalidToken
	}
	return a.verifier.Verify(r.Context(), token)
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
