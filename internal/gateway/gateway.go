package gateway

import "context"

// Shell defines the interface for user-facing frontends (terminal, Telegram).
type Shell interface {
	// Start begins the input loop and blocks until ctx is cancelled or the
	// user exits.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the gateway.
	Stop() error
}
