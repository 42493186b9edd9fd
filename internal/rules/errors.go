package rules

import "errors"

var (
	// ErrNoRoute reports that no endpoint in the catalog matched the
	// request method and path.
	ErrNoRoute = errors.New("rules: no matching endpoint")

	// ErrNoResponse reports that an endpoint matched but no candidate
	// response survived condition filtering and no default exists.
	ErrNoResponse = errors.New("rules: no matching response and no default response")

	// ErrNoProbability reports that multiple candidates remained but their
	// probabilities sum to zero, leaving nothing to draw from.
	ErrNoProbability = errors.New("rules: no responses with probability specified")
)
