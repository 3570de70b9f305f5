package domain

import (
	"fmt"
	"strings"
	"time"
)

// Platform 系统代理后端标识
type Platform string

const (
	PlatformWindows Platform = "windows"
	PlatformLinux   Platform = "linux"
	PlatformMac     Platform = "mac"
)

// ParsePlatform accepts the platform IDs above plus runtime.GOOS spellings.
func ParsePlatform(s string) (Platform, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "windows", "win", "win32":
		return PlatformWindows, nil
	case "linux":
		return PlatformLinux, nil
	case "mac", "darwin", "macos":
		return PlatformMac, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedPlatform, s)
	}
}

// ProxyTarget 描述一次开关请求。IP 为空表示关闭系统代理。
type ProxyTarget struct {
	IP   string `json:"ip,omitempty"`
	Port int    `json:"port,omitempty"`

	// HTTPEnabled 为 true 时，纯 HTTP 流量走 Port-1。
	HTTPEnabled bool `json:"httpEnabled"`

	// SyncEnv 开启时同时写入 HTTPS_PROXY / HTTP_PROXY 持久环境变量（仅 Windows）。
	SyncEnv bool `json:"syncEnv"`
}

// DisableTarget returns the target that turns the system proxy off.
func DisableTarget() ProxyTarget {
	return ProxyTarget{}
}

func (t ProxyTarget) Enabled() bool {
	return strings.TrimSpace(t.IP) != ""
}

// HTTPPort is the port used for plain HTTP traffic when HTTPEnabled is set.
func (t ProxyTarget) HTTPPort() int {
	return t.Port - 1
}

// Validate checks the port range for enable requests. Disable requests are always valid.
func (t ProxyTarget) Validate() error {
	if !t.Enabled() {
		return nil
	}
	if t.Port < 1 || t.Port > 65535 {
		return fmt.Errorf("%w: proxy port %d out of range", ErrConfiguration, t.Port)
	}
	if t.HTTPEnabled && t.HTTPPort() < 1 {
		return fmt.Errorf("%w: proxy port %d leaves no room for the HTTP port", ErrConfiguration, t.Port)
	}
	return nil
}

// ToggleAction 开启或关闭
type ToggleAction string

const (
	ActionEnable  ToggleAction = "enable"
	ActionDisable ToggleAction = "disable"
)

// Mechanism 实际生效的执行路径
type Mechanism string

const (
	MechanismNone     Mechanism = "none"
	MechanismPrimary  Mechanism = "primary"
	MechanismFallback Mechanism = "fallback"
)

// ToggleState follows Idle -> Configuring -> (Committed | FallbackConfiguring -> Committed) | Failed.
type ToggleState string

const (
	StateIdle                ToggleState = "idle"
	StateConfiguring         ToggleState = "configuring"
	StateFallbackConfiguring ToggleState = "fallback_configuring"
	StateCommitted           ToggleState = "committed"
	StateFailed              ToggleState = "failed"
)

// ToggleResult 一次开关操作的结果
type ToggleResult struct {
	OperationID string        `json:"operationId"`
	Platform    Platform      `json:"platform"`
	Action      ToggleAction  `json:"action"`
	Mechanism   Mechanism     `json:"mechanism"`
	State       ToggleState   `json:"state"`
	States      []ToggleState `json:"states"` // 依次经历的状态，首项为 configuring
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
	StartedAt   time.Time     `json:"startedAt"`
	FinishedAt  time.Time     `json:"finishedAt"`
}

// NewToggleResult starts a result in the configuring state.
func NewToggleResult(platform Platform, target ProxyTarget) ToggleResult {
	action := ActionDisable
	if target.Enabled() {
		action = ActionEnable
	}
	return ToggleResult{
		Platform:  platform,
		Action:    action,
		Mechanism: MechanismNone,
		State:     StateConfiguring,
		States:    []ToggleState{StateConfiguring},
		StartedAt: time.Now(),
	}
}

func (r ToggleResult) enter(s ToggleState) ToggleResult {
	r.State = s
	r.States = append(append([]ToggleState(nil), r.States...), s)
	return r
}

// Fallback records that the primary mechanism failed and the fallback is being tried.
func (r ToggleResult) Fallback() ToggleResult {
	return r.enter(StateFallbackConfiguring)
}

// Commit marks the result successful via the given mechanism.
func (r ToggleResult) Commit(m Mechanism) ToggleResult {
	r = r.enter(StateCommitted)
	r.Mechanism = m
	r.Success = true
	r.Error = ""
	r.FinishedAt = time.Now()
	return r
}

// Fail marks the result failed with err.
func (r ToggleResult) Fail(err error) ToggleResult {
	r = r.enter(StateFailed)
	r.Mechanism = MechanismNone
	r.Success = false
	if err != nil {
		r.Error = err.Error()
	}
	r.FinishedAt = time.Now()
	return r
}
