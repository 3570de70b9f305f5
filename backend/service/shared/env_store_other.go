//go:build !windows
// +build !windows

package shared

import "sysproxy/backend/domain"

type unsupportedEnvStore struct{}

// NewUserEnvStore returns a store that rejects every call outside Windows.
func NewUserEnvStore() EnvStore { return unsupportedEnvStore{} }

func (unsupportedEnvStore) Get(string) (string, error) { return "", domain.ErrProxyUnsupported }
func (unsupportedEnvStore) Set(string, string) error   { return domain.ErrProxyUnsupported }
func (unsupportedEnvStore) Remove(string) error        { return domain.ErrProxyUnsupported }
