package dubhe

import "errors"

// Programmer-error sentinels: these are contract violations, caught
// eagerly at construction time or at misuse of a Future, never
// retried and never produced by a user task callable.
var (
	// ErrInvalidFuture is returned by Future.Get when the future is
	// default-constructed or was already consumed. AsyncFuture.Get does
	// not return it: it checks neither case.
	ErrInvalidFuture = errors.New("dubhe: future is invalid or already consumed")

	// ErrSelfPrecede is raised (panic) when a non-condition task is
	// made to precede itself.
	ErrSelfPrecede = errors.New("dubhe: a non-condition task cannot precede itself")

	// ErrDoubleJoin is raised (panic) when a Subflow's Join and Detach
	// are both called, or the same one called twice.
	ErrDoubleJoin = errors.New("dubhe: subflow already joined or detached")
)
