package domain

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ExclusionEntry is one host pattern of the static exclusion map.
// Exclude=true always bypasses the proxy; Exclude=false forces the host through
// the proxy even when the domestic allowlist lists it.
type ExclusionEntry struct {
	Host    string `json:"host"`
	Exclude bool   `json:"exclude"`
}

// ExclusionList keeps the static exclusion map in document order.
type ExclusionList []ExclusionEntry

// Lookup reports the configured value for host and whether it is present.
func (l ExclusionList) Lookup(host string) (exclude bool, ok bool) {
	for _, e := range l {
		if e.Host == host {
			return e.Exclude, true
		}
	}
	return false, false
}

// Set updates host in place or appends it.
func (l ExclusionList) Set(host string, exclude bool) ExclusionList {
	for i := range l {
		if l[i].Host == host {
			l[i].Exclude = exclude
			return l
		}
	}
	return append(l, ExclusionEntry{Host: host, Exclude: exclude})
}

// UnmarshalYAML decodes a `host: bool` mapping without losing key order.
// Keys with a null value are treated as absent.
func (l *ExclusionList) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind == yaml.ScalarNode && value.Tag == "!!null" {
		*l = nil
		return nil
	}
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("%w: excludeIpList must be a mapping (line %d)", ErrConfiguration, value.Line)
	}

	out := make(ExclusionList, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		keyNode, valNode := value.Content[i], value.Content[i+1]
		host := strings.TrimSpace(keyNode.Value)
		if host == "" {
			continue
		}
		if valNode.Tag == "!!null" {
			continue
		}
		var exclude bool
		if err := valNode.Decode(&exclude); err != nil {
			return fmt.Errorf("%w: excludeIpList[%s] must be a bool (line %d)", ErrConfiguration, host, valNode.Line)
		}
		out = out.Set(host, exclude)
	}
	*l = out
	return nil
}

// ExclusionSet 一次开关操作使用的绕过列表
type ExclusionSet struct {
	Hosts     []string `json:"hosts"`
	Separator string   `json:"separator"`
}

// String renders every host followed by the separator, e.g. "a;b;".
func (s ExclusionSet) String() string {
	var b strings.Builder
	for _, h := range s.Hosts {
		b.WriteString(h)
		b.WriteString(s.Separator)
	}
	return b.String()
}

func (s ExclusionSet) Len() int { return len(s.Hosts) }

// AllowlistSource 白名单来源
type AllowlistSource string

const (
	AllowlistCustom  AllowlistSource = "custom"
	AllowlistCache   AllowlistSource = "cache"
	AllowlistBuiltin AllowlistSource = "builtin"
)

// AllowlistDocument 国内域名白名单文档
type AllowlistDocument struct {
	Source    AllowlistSource `json:"source"`
	Path      string          `json:"path,omitempty"`
	Text      string          `json:"-"`
	UpdatedAt time.Time       `json:"updatedAt,omitempty"`
}
