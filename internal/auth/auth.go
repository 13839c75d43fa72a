package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/grpc/metadata"
)

// Authenticator validates the bearer token of a serve-mode request.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Principal, error)
}

// Principal identifies an authenticated caller.
type Principal struct {
	Subject   string
	ProjectID string
}

// ErrUnauthenticated is returned when no valid credentials are found.
var ErrUnauthenticated = errors.New("unauthenticated")

// ExtractBearerToken extracts the bearer token from gRPC metadata.
func ExtractBearerToken(ctx context.Context) (string, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return "", ErrUnauthenticated
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return "", ErrUnauthenticated
	}
	return parseBearer(values[0])
}

// ExtractHTTPBearerToken extracts the bearer token from an Authorization header.
func ExtractHTTPBearerToken(r *http.Request) (string, error) {
	return parseBearer(r.Header.Get("Authorization"))
}

func parseBearer(value string) (string, error) {
	token := strings.TrimSpace(value)
	token = strings.TrimPrefix(token, "Bearer ")
	token = strings.TrimPrefix(token, "bearer ")
	token = strings.TrimSpace(token)
	if token == "" {
		return "", ErrUnauthenticated
	}
	return token, nil
}
