package broadcast

import (
	"errors"
	"time"

	"notifybot/internal/transport"
)

var (
	// ErrNotFound is returned when a job identifier is absent from the registry.
	ErrNotFound = errors.New("job not found")

	// ErrQueueFull is returned when a job's edit queue is at capacity.
	// The caller may retry; nothing is dropped silently.
	ErrQueueFull = errors.New("edit queue full")
)

// editQueueCap bounds how many pending appends a job can hold before Append
// starts failing with ErrQueueFull.
const editQueueCap = 3

// Spec describes one repeating broadcast job as submitted by the caller.
// It is copied on Add; later changes to the caller's slices have no effect.
//
// Interval must be positive and Messages must contain at least one variant;
// Add rejects specs that don't. Buttons and Targets are opaque to the
// registry: whatever validation they need is the submitting caller's job.
type Spec struct {
	Interval time.Duration

	// Messages is the ordered variant list. Index 0 is the text sent on
	// every tick; appended variants only become visible if they reach
	// index 0.
	Messages []string

	// Buttons is an adapter-specific layout passed through to every send
	// (Telegram: *telebot.ReplyMarkup). Immutable for the job's life.
	Buttons any

	Targets []transport.ChatTarget
}

// Summary is the read-only listing view of a job. It is produced once at
// creation time; later edits to the job are not reflected.
type Summary struct {
	ID       uint64
	Interval time.Duration

	// Skim is the first message variant at creation time, kept for display.
	Skim string
}

type editRequest struct {
	text string
}
