package domain

import (
	"errors"
	"fmt"
)

// 错误分类
var (
	// ErrFetch 远程白名单下载/校验失败（本地恢复，仅记录日志）
	ErrFetch = errors.New("allowlist fetch failed")

	// ErrPersistence 写文件 / stat / utime 失败
	ErrPersistence = errors.New("allowlist persistence failed")

	// ErrExclusionResolution 白名单缺失或损坏，回退为静态排除列表
	ErrExclusionResolution = errors.New("exclusion resolution failed")

	// ErrToggle 系统代理命令或 API 失败，返回给调用方
	ErrToggle = errors.New("system proxy toggle failed")

	// ErrConfiguration 未知平台或配置不合法，立即返回
	ErrConfiguration = errors.New("invalid configuration")

	ErrNotFound = errors.New("not found")
)

var (
	ErrUnsupportedPlatform = fmt.Errorf("%w: unsupported platform", ErrConfiguration)
	ErrProxyUnsupported    = errors.New("system proxy configuration not supported on this platform")
)

// ToggleError wraps a strategy failure with the step that produced it.
// On strategies with a fallback, Err is always the primary failure.
type ToggleError struct {
	Platform  Platform
	Mechanism Mechanism
	Step      string
	Err       error
}

func (e *ToggleError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("%s system proxy (%s) failed: %v", e.Platform, e.Mechanism, e.Err)
	}
	return fmt.Sprintf("%s system proxy (%s) %s failed: %v", e.Platform, e.Mechanism, e.Step, e.Err)
}

func (e *ToggleError) Unwrap() error { return e.Err }

func (e *ToggleError) Is(target error) bool { return target == ErrToggle }
