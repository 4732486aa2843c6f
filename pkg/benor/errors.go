package benor

import "errors"

// Consensus errors
var (
	ErrFaulty        = errors.New("node is faulty")
	ErrKilled        = errors.New("node is stopped")
	ErrMalformedVote = errors.New("malformed vote value")
	ErrUnknownPhase  = errors.New("unknown vote phase")
)
