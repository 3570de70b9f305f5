// Package exclusion merges the static exclusion map with the domestic-domain
// allowlist into the bypass list handed to the OS proxy settings.
package exclusion

import (
	"fmt"
	"log"
	"strings"

	"sysproxy/backend/domain"
	"sysproxy/backend/service/allowlist"
)

// 各平台的分隔/引号约定
const (
	SeparatorWindows = ";"
	SeparatorLinux   = "', '"
	SeparatorMac     = `" "`
)

// SeparatorFor returns the separator convention of platform.
func SeparatorFor(p domain.Platform) string {
	switch p {
	case domain.PlatformLinux:
		return SeparatorLinux
	case domain.PlatformMac:
		return SeparatorMac
	default:
		return SeparatorWindows
	}
}

// Options is the slice of proxy configuration the resolver reads.
type Options struct {
	Exclusions               domain.ExclusionList
	IncludeDomesticAllowList bool
	AutoUpdate               bool
	CustomAllowListPath      string
	RemoteURL                string
}

// DocumentSource yields the effective allowlist (custom, cached or built-in).
type DocumentSource interface {
	Document(customPath string) (domain.AllowlistDocument, error)
}

// Refresher starts a background allowlist download.
type Refresher interface {
	RefreshAsync(url string)
}

type Resolver struct {
	docs      DocumentSource
	refresher Refresher
}

func NewResolver(docs DocumentSource, refresher Refresher) *Resolver {
	return &Resolver{docs: docs, refresher: refresher}
}

// Resolve builds the exclusion set: hosts configured true in config order,
// then allowlist domains not configured false. Allowlist failures are logged
// and the hosts gathered so far are returned.
func (r *Resolver) Resolve(opts Options, separator string) domain.ExclusionSet {
	set := domain.ExclusionSet{Hosts: []string{}, Separator: separator}
	seen := make(map[string]struct{})
	add := func(host string) {
		if _, ok := seen[host]; ok {
			return
		}
		seen[host] = struct{}{}
		set.Hosts = append(set.Hosts, host)
	}

	for _, e := range opts.Exclusions {
		if e.Exclude {
			add(e.Host)
		}
	}

	if !opts.IncludeDomesticAllowList {
		return set
	}

	if err := r.mergeDomestic(opts, add); err != nil {
		log.Printf("[Exclusion] merging domestic allowlist failed, keeping %d hosts: %v", len(set.Hosts), err)
	}
	return set
}

func (r *Resolver) mergeDomestic(opts Options, add func(string)) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%w: %v", domain.ErrExclusionResolution, p)
		}
	}()

	if r.docs == nil {
		return fmt.Errorf("%w: no allowlist source", domain.ErrExclusionResolution)
	}

	if strings.TrimSpace(opts.CustomAllowListPath) == "" && opts.AutoUpdate {
		if r.refresher == nil || strings.TrimSpace(opts.RemoteURL) == "" {
			log.Printf("[Exclusion] auto update enabled but no remote allowlist url configured")
		} else {
			// 异步下载，下次开关系统代理时生效
			r.refresher.RefreshAsync(opts.RemoteURL)
		}
	}

	doc, err := r.docs.Document(opts.CustomAllowListPath)
	if err != nil {
		return err
	}

	domains := allowlist.ExtractDomains(doc.Text)
	if len(domains) == 0 {
		log.Printf("[Exclusion] domestic allowlist (%s) is empty", doc.Source)
		return nil
	}
	for _, d := range domains {
		if exclude, ok := opts.Exclusions.Lookup(d); ok && !exclude {
			log.Printf("[Exclusion] %s is configured false, keeping it proxied", d)
			continue
		}
		add(d)
	}
	log.Printf("[Exclusion] merged %d domestic domains from %s allowlist", len(domains), doc.Source)
	return nil
}
