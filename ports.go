package oidc

import (
	"context"
	"errors"
	"net/http"
)

// ErrNotAuthenticated is returned by a UserResolver when the request carries
// no authenticated host session.
var ErrNotAuthenticated = errors.New("not authenticated")

// ErrUnknownUser is returned by a UserDirectory for ids it does not know.
var ErrUnknownUser = errors.New("unknown user")

// User is an account of the host application.
type User struct {
	ID    string
	Name  string
	Email string
}

// UserResolver identifies the user logged in to the host for a request.
// The continue endpoint calls it after the host login page has run.
type UserResolver interface {
	AuthenticatedUser(r *http.Request) (*User, error)
}

// UserDirectory looks up host users by id for the userinfo endpoint.
type UserDirectory interface {
	LookupUser(ctx context.Context, id string) (*User, error)
}

// UserResolverFunc adapts a function to UserResolver.
type UserResolverFunc func(r *http.Request) (*User, error)

// AuthenticatedUser calls f(r).
func (f UserResolverFunc) AuthenticatedUser(r *http.Request) (*User, error) {
	return f(r)
}

// UserDirectoryFunc adapts a function to UserDirectory.
type UserDirectoryFunc func(ctx context.Context, id string) (*User, error)

// LookupUser calls f(ctx, id).
func (f UserDirectoryFunc) LookupUser(ctx context.Context, id string) (*User, error) {
	return f(ctx, id)
}
