package scrape

import "errors"

var (
	// ErrInvalidURL is returned for a missing or non-http(s) target.
	ErrInvalidURL = errors.New("invalid url")
	// ErrQueueFull is returned when a job cannot be enqueued in time.
	ErrQueueFull = errors.New("scrape queue full")
	// ErrQueueClosed is returned by Dequeue after shutdown.
	ErrQueueClosed = errors.New("queue closed")
	// ErrArtifactMissing means the crawler succeeded but wrote no output.
	ErrArtifactMissing = errors.New("output not generated")
	// ErrJobNotFound is returned for unknown job IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrCharacterNotFound is returned when a compared id is not in history.
	ErrCharacterNotFound = errors.New("character not found")
	// ErrInvalidComparison is returned unless exactly two ids are given.
	ErrInvalidComparison = errors.New("exactly two character ids are required")
)
