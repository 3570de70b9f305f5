//go:build !windows

package sysproxy

import "sysproxy/backend/domain"

type noSystemAPI struct{}

// NewSystemAPI returns an API that always fails, so the helper fallback runs.
func NewSystemAPI() SystemAPI { return noSystemAPI{} }

func (noSystemAPI) SetProxy(bool, string, string) error { return domain.ErrProxyUnsupported }
