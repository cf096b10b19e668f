package ports

import (
	"context"

	"github.com/mikey/mail-policy/internal/core"
)

// PolicyFrontend defines the interface for components that feed policy
// requests to the check service
type PolicyFrontend interface {
	// Evaluate runs the configured checks against a request
	Evaluate(ctx context.Context, req core.Request) ([]core.CheckResult, error)

	// Start starts the front end
	Start() error

	// Stop stops the front end
	Stop() error
}
