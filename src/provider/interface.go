package provider

import (
	"context"
	"time"
)

// BuildSource is the CI side of a reconciliation: something that knows which
// jobs are configured and can report their recent builds.
type BuildSource interface {
	// Name returns the source system name (e.g. "Jenkins").
	Name() string

	// Validate checks every configured target against the live inventory.
	// Problems are reported as *ConfigurationError.
	Validate(ctx context.Context) error

	// RecentBuilds returns builds started at or after since, grouped by
	// container and project, then by fully-qualified job path.
	RecentBuilds(ctx context.Context, since time.Time) (map[ContainerKey]JobBuilds, error)
}
