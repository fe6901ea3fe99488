package access

import "context"

// Confirmer obtains an explicit affirmation before a destructive action.
type Confirmer interface {
	Confirm(ctx context.Context, prompt string) (bool, error)
}

// ConfirmFunc adapts a function to Confirmer.
type ConfirmFunc func(ctx context.Context, prompt string) (bool, error)

func (f ConfirmFunc) Confirm(ctx context.Context, prompt string) (bool, error) {
	return f(ctx, prompt)
}

// Confirmed answers every prompt with a fixed value. HTTP handlers use it
// with the caller's explicit "confirm" flag.
type Confirmed bool

func (c Confirmed) Confirm(context.Context, string) (bool, error) {
	return bool(c), nil
}
