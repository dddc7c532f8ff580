package agreement

import "errors"

var (
	// ErrNotFound is returned when no agreement row exists for the identifier.
	ErrNotFound = errors.New("agreement: not found")
	// ErrUnknownActor signals a label that is not one of the two registered parties.
	ErrUnknownActor = errors.New("agreement: actor is not a party to this agreement")
	// ErrAlreadyTerminal signals a mutating action against an accepted or declined agreement.
	ErrAlreadyTerminal = errors.New("agreement: negotiation already concluded")
	// ErrOutOfTurn signals a party acting on its own open proposal.
	ErrOutOfTurn = errors.New("agreement: waiting on the other party's response")
	// ErrNoOpCounter signals a counter whose terms match the current baseline.
	ErrNoOpCounter = errors.New("agreement: counter changes no negotiable field")
	// ErrStaleState signals the row moved on between snapshot read and locked write.
	ErrStaleState = errors.New("agreement: state changed concurrently, re-fetch and retry")
	// ErrPaymentNotSettled signals a referenced payment that is missing or unpaid.
	ErrPaymentNotSettled = errors.New("agreement: referenced payment is not settled")
)
