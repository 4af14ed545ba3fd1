package core

import "errors"

var (
	// ErrForbidden means the caller is authenticated but lacks the required role.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalid means the request can never succeed as given.
	ErrInvalid = errors.New("invalid request")
	// ErrUpstream means a third-party service failed.
	ErrUpstream = errors.New("upstream service failed")
)
