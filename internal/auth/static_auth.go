package auth

import (
	"context"
)

// StaticAuthenticator accepts every request. It is used when no token hash
// is configured, which is only sensible for a daemon bound to localhost.
type StaticAuthenticator struct {
	projectID string
}

func NewStaticAuthenticator(projectID string) *StaticAuthenticator {
	return &StaticAuthenticator{projectID: projectID}
}

func (a *StaticAuthenticator) Authenticate(_ context.Context, _ string) (*Principal, error) {
	return &Principal{Subject: "local", ProjectID: a.projectID}, nil
}
