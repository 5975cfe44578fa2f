package refresh

import "errors"

var (
	// ErrRefreshVerificationFailed is returned when a contribution fails verification.
	// The round is aborted, and a new one must be started by every party.
	ErrRefreshVerificationFailed = errors.New("refresh: verification failed")
	// ErrIncompleteRound is returned when the round ends before every contribution was received.
	ErrIncompleteRound = errors.New("refresh: incomplete round")
	// ErrPartyRemoved is returned by Finalize to a party which the round removes from the group.
	ErrPartyRemoved = errors.New("refresh: local party removed from the group")
	// ErrUnknownSender is returned for contributions from a party outside the group.
	ErrUnknownSender = errors.New("refresh: unknown sender")
	// ErrRoundClosed is returned when using a coordinator which has completed or aborted.
	ErrRoundClosed = errors.New("refresh: round closed")
)
