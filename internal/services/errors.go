package services

import "errors"

var (
	// ErrForbidden marks a write attempted without edit rights.
	ErrForbidden = errors.New("forbidden")

	// ErrChainIntegrity marks a version chain that references a missing
	// parent. It fails the operation that hit it and nothing else.
	ErrChainIntegrity = errors.New("version chain integrity violation")
)
