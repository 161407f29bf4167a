package push

import (
	"context"

	"github.com/mostrop2p/mostro-push/internal/model"
)

// Service is one downstream push backend. The listener holds an ordered
// list of these; for each event it tries every service that supports the
// registered platform until one delivers.
type Service interface {
	// Name identifies the backend in logs.
	Name() string

	// SupportsPlatform reports whether this backend can deliver to the
	// given platform.
	SupportsPlatform(platform model.Platform) bool

	// SendToToken delivers a notification to a single device token.
	// Implementations enforce their own delivery timeout.
	SendToToken(ctx context.Context, deviceToken string, platform model.Platform) error
}
