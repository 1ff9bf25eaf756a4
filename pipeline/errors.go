package pipeline

import "errors"

var (
	// ErrStoreRequired is returned when a store is not provided.
	ErrStoreRequired = errors.New("store required")

	// ErrStageRequired is returned when one of the cycle stages is missing.
	ErrStageRequired = errors.New("every cycle stage must be provided")

	// ErrCycleActive is returned when a cycle is triggered while another one
	// is running.
	ErrCycleActive = errors.New("a pipeline cycle is already active")

	// ErrLocked is returned by a Locker when another holder owns the lock.
	ErrLocked = errors.New("lock held elsewhere")

	// ErrNoTopics is returned when no topic is configured.
	ErrNoTopics = errors.New("at least one topic is required")

	// ErrDuplicateTopic is returned when two topics share a name.
	ErrDuplicateTopic = errors.New("duplicate topic name")

	// ErrNoStages is returned when RunStages is called without stages.
	ErrNoStages = errors.New("no stages to run")
)
