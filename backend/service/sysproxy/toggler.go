// Package sysproxy switches the OS-level proxy setting. Each supported desktop
// has its own Toggler; the Dispatcher picks one by platform ID.
package sysproxy

import (
	"context"

	"sysproxy/backend/domain"
)

// Toggler applies an enable/disable request on one platform.
type Toggler interface {
	Platform() domain.Platform
	Apply(ctx context.Context, target domain.ProxyTarget) (domain.ToggleResult, error)
}

// ExclusionFunc resolves the bypass list using the given separator convention.
type ExclusionFunc func(separator string) domain.ExclusionSet

func noExclusions(separator string) domain.ExclusionSet {
	return domain.ExclusionSet{Hosts: []string{}, Separator: separator}
}
