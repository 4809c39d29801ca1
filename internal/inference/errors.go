package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrContextOverflow means a prompt cannot fit the context window even
	// after trimming.
	ErrContextOverflow = errors.New("prompt does not fit the context window")
	// ErrRuntimeFault wraps a fatal decode status. The runtime is no longer
	// trusted and the session refuses work until it is reloaded.
	ErrRuntimeFault = errors.New("runtime fault")
	// ErrGenerationFailed is a step-level failure. The session stays usable
	// and the same input may be resubmitted.
	ErrGenerationFailed = errors.New("generation failed")
	// ErrEmptyPrompt is returned when the formatted prompt encodes to no
	// tokens.
	ErrEmptyPrompt = errors.New("empty prompt")
	// ErrSessionBroken is returned by every call after a runtime fault. It
	// stays set until Loader.Reload replaces the session.
	ErrSessionBroken = errors.New("session is broken; reload it to continue")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("session closed")
)

func generationFailed(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrGenerationFailed, op, err)
}
