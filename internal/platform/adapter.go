package platform

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by adapters for capabilities the platform lacks.
var ErrNotSupported = errors.New("platform capability not supported")

// Adapter is the base interface every platform adapter must implement.
type Adapter interface {
	Type() Type

	// DecodeThreadID parses an opaque thread id into its platform parts.
	DecodeThreadID(threadID string) (ThreadRef, error)

	// Post delivers content into a thread and returns the posted message id
	// when the platform reports one.
	Post(ctx context.Context, thread Thread, content Content) (string, error)
}

// EphemeralPoster posts a message visible only to one user.
type EphemeralPoster interface {
	PostEphemeral(ctx context.Context, thread Thread, userID, text string) error
}

// Reactor adds and removes emoji reactions on a message.
type Reactor interface {
	AddReaction(ctx context.Context, thread Thread, messageID, emoji string) error
	RemoveReaction(ctx context.Context, thread Thread, messageID, emoji string) error
}

// Subscriber subscribes the bot to future messages in a thread.
type Subscriber interface {
	Subscribe(ctx context.Context, thread Thread) error
}

// Deleter removes a message the bot posted earlier.
type Deleter interface {
	Delete(ctx context.Context, thread Thread, messageID string) error
}
