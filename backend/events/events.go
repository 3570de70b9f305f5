package events

import (
	"time"

	"sysproxy/backend/domain"
)

// EventType 事件类型
type EventType string

const (
	EventAllowlistUpdated   EventType = "allowlist.updated"
	EventSystemProxyToggled EventType = "system_proxy.toggled"

	// 通配符，订阅所有事件
	EventAll EventType = "*"
)

type Event interface {
	Type() EventType
}

// AllowlistEvent is published after a refreshed allowlist was written to the cache.
type AllowlistEvent struct {
	Path      string
	Bytes     int
	UpdatedAt time.Time
}

func (AllowlistEvent) Type() EventType { return EventAllowlistUpdated }

// ToggleEvent is published after every toggle attempt, successful or not.
type ToggleEvent struct {
	Result domain.ToggleResult
}

func (ToggleEvent) Type() EventType { return EventSystemProxyToggled }
