package service

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"strings"
	"sync"
	"time"

	"sysproxy/backend/config"
	"sysproxy/backend/domain"
	"sysproxy/backend/events"
	"sysproxy/backend/service/allowlist"
	"sysproxy/backend/service/applog"
	"sysproxy/backend/service/exclusion"
	"sysproxy/backend/service/shared"
	"sysproxy/backend/service/sysproxy"
	"sysproxy/backend/tasks"
)

// Facade 服务门面（API / CLI 聚合层）
type Facade struct {
	cfg        *config.Config
	bus        *events.Bus
	store      *allowlist.Store
	fetcher    *allowlist.Fetcher
	resolver   *exclusion.Resolver
	dispatcher *sysproxy.Dispatcher
	platform   domain.Platform

	// 系统代理是全局资源，开关操作串行执行
	toggleMu sync.Mutex

	appLogPath      string
	appLogStartedAt time.Time
}

// AllowlistStatus describes the allowlist the next toggle would use.
type AllowlistStatus struct {
	Source    domain.AllowlistSource `json:"source"`
	Path      string                 `json:"path"`
	CachePath string                 `json:"cachePath"`
	RemoteURL string                 `json:"remoteUrl,omitempty"`
	UpdatedAt *time.Time             `json:"updatedAt,omitempty"`
	Entries   int                    `json:"entries"`
	Enabled   bool                   `json:"enabled"`
	Auto      bool                   `json:"autoUpdate"`
}

// CurrentPlatform maps runtime.GOOS to a platform ID.
func CurrentPlatform() (domain.Platform, error) {
	return domain.ParsePlatform(runtime.GOOS)
}

// NewFacade wires the allowlist pipeline and the platform togglers.
// togglers replaces the OS-backed strategies when non-empty.
func NewFacade(cfg *config.Config, bus *events.Bus, client allowlist.HTTPDoer, togglers ...sysproxy.Toggler) *Facade {
	if cfg == nil {
		cfg = &config.Config{}
	}
	if bus == nil {
		bus = events.NewBus()
	}
	store := allowlist.NewStore(cfg.UserBasePath(), cfg.Proxy.DomesticDomainAllowListFilePath)
	fetcher := allowlist.NewFetcher(store, client, bus)

	f := &Facade{
		cfg:      cfg,
		bus:      bus,
		store:    store,
		fetcher:  fetcher,
		resolver: exclusion.NewResolver(store, fetcher),
	}
	if p, err := CurrentPlatform(); err == nil {
		f.platform = p
	}

	if len(togglers) == 0 {
		togglers = f.osTogglers()
	}
	f.dispatcher = sysproxy.NewDispatcher(bus, togglers...)
	return f
}

func (f *Facade) osTogglers() []sysproxy.Toggler {
	exec := shared.NewDesktopExecutor()
	return []sysproxy.Toggler{
		sysproxy.NewWindows(sysproxy.NewSystemAPI(), exec, shared.NewUserEnvStore(), f.exclusionsFor, f.cfg.SysproxyExe()),
		sysproxy.NewGnome(exec, f.exclusionsFor),
		sysproxy.NewMac(exec, f.exclusionsFor),
	}
}

func (f *Facade) exclusionsFor(separator string) domain.ExclusionSet {
	return f.resolver.Resolve(f.cfg.ExclusionOptions(), separator)
}

func (f *Facade) Bus() *events.Bus { return f.bus }

func (f *Facade) Config() *config.Config { return f.cfg }

// Platform is the default platform for requests that don't name one.
func (f *Facade) Platform() domain.Platform { return f.platform }

// SetPlatform overrides the detected platform.
func (f *Facade) SetPlatform(p domain.Platform) { f.platform = p }

func (f *Facade) Platforms() []domain.Platform { return f.dispatcher.Platforms() }

func (f *Facade) SetAppLog(path string, startedAt time.Time) {
	f.appLogPath = path
	f.appLogStartedAt = startedAt
}

func (f *Facade) AppLogs(since int64) applog.Chunk {
	return applog.Since(f.appLogPath, since, f.appLogStartedAt)
}

func (f *Facade) resolvePlatform(name string) (domain.Platform, error) {
	if strings.TrimSpace(name) != "" {
		return domain.ParsePlatform(name)
	}
	if f.platform == "" {
		return "", fmt.Errorf("%w: %s", domain.ErrUnsupportedPlatform, runtime.GOOS)
	}
	return f.platform, nil
}

// Toggle applies target on platform ("" = default platform).
func (f *Facade) Toggle(ctx context.Context, platform string, target domain.ProxyTarget) (domain.ToggleResult, error) {
	p, err := f.resolvePlatform(platform)
	if err != nil {
		return domain.NewToggleResult(domain.Platform(platform), target).Fail(err), err
	}

	f.toggleMu.Lock()
	defer f.toggleMu.Unlock()
	return f.dispatcher.Toggle(ctx, p, target)
}

// Enable turns the proxy on at ip:port, honoring proxy.proxyHttp.
func (f *Facade) Enable(ctx context.Context, platform, ip string, port int, syncEnv bool) (domain.ToggleResult, error) {
	if strings.TrimSpace(ip) == "" {
		err := fmt.Errorf("%w: proxy ip is required", domain.ErrConfiguration)
		return domain.NewToggleResult(domain.Platform(platform), domain.DisableTarget()).Fail(err), err
	}
	return f.Toggle(ctx, platform, f.cfg.Target(ip, port, syncEnv))
}

func (f *Facade) Disable(ctx context.Context, platform string) (domain.ToggleResult, error) {
	return f.Toggle(ctx, platform, domain.DisableTarget())
}

// Exclusions previews the bypass list the next enable would apply from the
// current allowlist. A preview never starts a remote download.
func (f *Facade) Exclusions(platform string) (domain.ExclusionSet, error) {
	p, err := f.resolvePlatform(platform)
	if err != nil {
		return domain.ExclusionSet{}, err
	}
	opts := f.cfg.ExclusionOptions()
	opts.AutoUpdate = false
	return f.resolver.Resolve(opts, exclusion.SeparatorFor(p)), nil
}

func (f *Facade) AllowlistStatus() (AllowlistStatus, error) {
	opts := f.cfg.ExclusionOptions()
	doc, err := f.store.Document(opts.CustomAllowListPath)
	if err != nil {
		return AllowlistStatus{}, err
	}
	st := AllowlistStatus{
		Source:    doc.Source,
		Path:      doc.Path,
		CachePath: f.store.Path(),
		RemoteURL: opts.RemoteURL,
		Entries:   len(allowlist.ExtractDomains(doc.Text)),
		Enabled:   opts.IncludeDomesticAllowList,
		Auto:      opts.AutoUpdate,
	}
	if !doc.UpdatedAt.IsZero() {
		t := doc.UpdatedAt
		st.UpdatedAt = &t
	}
	return st, nil
}

// RefreshAllowlist downloads the remote allowlist synchronously.
func (f *Facade) RefreshAllowlist(ctx context.Context) error {
	return f.fetcher.Refresh(ctx, f.cfg.ExclusionOptions().RemoteURL)
}

// Jobs returns the background jobs for serve mode.
func (f *Facade) Jobs() []tasks.Job {
	opts := f.cfg.ExclusionOptions()
	if !opts.IncludeDomesticAllowList || !opts.AutoUpdate || opts.CustomAllowListPath != "" || opts.RemoteURL == "" {
		return nil
	}
	return []tasks.Job{{
		Name:     "allowlist refresh",
		Interval: shared.AllowlistRefreshInterval,
		Run: func(ctx context.Context) {
			if err := f.RefreshAllowlist(ctx); err != nil {
				log.Printf("[Allowlist] scheduled refresh failed: %v", err)
			}
		},
	}}
}
