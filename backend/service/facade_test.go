package service

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sysproxy/backend/config"
	"sysproxy/backend/domain"
	"sysproxy/backend/service/allowlist"
	"sysproxy/backend/tasks"
)

// recordingToggler 记录请求并返回成功，同时回调排除列表函数
type recordingToggler struct {
	platform   domain.Platform
	exclusions func(string) domain.ExclusionSet

	mu      sync.Mutex
	targets []domain.ProxyTarget
	lastSet domain.ExclusionSet
}

func (r *recordingToggler) Platform() domain.Platform { return r.platform }

func (r *recordingToggler) Apply(_ context.Context, target domain.ProxyTarget) (domain.ToggleResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.targets = append(r.targets, target)
	if r.exclusions != nil && target.Enabled() {
		r.lastSet = r.exclusions(";")
	}
	return domain.NewToggleResult(r.platform, target).Commit(domain.MechanismPrimary), nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := &config.Config{}
	cfg.Server.Setting.UserBasePath = t.TempDir()
	cfg.Proxy.ProxyHTTP = true
	cfg.Proxy.ExcludeDomesticDomainAllowList = true
	cfg.Proxy.ExcludeIPList = domain.ExclusionList{
		{Host: "localhost", Exclude: true},
		{Host: "*.baidu.com", Exclude: false},
	}
	return cfg
}

func TestFacade_EnableUsesConfigPolicy(t *testing.T) {
	t.Parallel()

	tg := &recordingToggler{platform: domain.PlatformLinux}
	f := NewFacade(testConfig(t), nil, nil, tg)
	f.SetPlatform(domain.PlatformLinux)

	res, err := f.Enable(context.Background(), "", "127.0.0.1", 31181, true)
	if err != nil || !res.Success {
		t.Fatalf("Enable: res=%+v err=%v", res, err)
	}
	got := tg.targets[0]
	if !got.HTTPEnabled || !got.SyncEnv || got.Port != 31181 {
		t.Fatalf("unexpected target: %+v", got)
	}

	if _, err := f.Disable(context.Background(), "linux"); err != nil {
		t.Fatalf("Disable: %v", err)
	}
	if tg.targets[1].Enabled() {
		t.Fatalf("disable should send an empty target")
	}
}

func TestFacade_EnableRequiresIP(t *testing.T) {
	t.Parallel()

	tg := &recordingToggler{platform: domain.PlatformLinux}
	f := NewFacade(testConfig(t), nil, nil, tg)

	if _, err := f.Enable(context.Background(), "linux", " ", 1080, false); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	if len(tg.targets) != 0 {
		t.Fatalf("toggler must not be called")
	}
}

func TestFacade_UnknownPlatformName(t *testing.T) {
	t.Parallel()

	f := NewFacade(testConfig(t), nil, nil, &recordingToggler{platform: domain.PlatformLinux})
	if _, err := f.Disable(context.Background(), "beos"); !errors.Is(err, domain.ErrUnsupportedPlatform) {
		t.Fatalf("expected ErrUnsupportedPlatform, got %v", err)
	}
	if _, err := f.Exclusions("beos"); !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestFacade_ExclusionsUseBuiltinAllowlist(t *testing.T) {
	t.Parallel()

	f := NewFacade(testConfig(t), nil, nil, &recordingToggler{platform: domain.PlatformMac})

	set, err := f.Exclusions("mac")
	if err != nil {
		t.Fatalf("Exclusions: %v", err)
	}
	if set.Separator != `" "` {
		t.Fatalf("separator = %q", set.Separator)
	}
	if len(set.Hosts) < 2 || set.Hosts[0] != "localhost" {
		t.Fatalf("static hosts must come first: %v", set.Hosts)
	}
	for _, h := range set.Hosts {
		if h == "*.baidu.com" {
			t.Fatalf("host configured false must not be excluded")
		}
	}
	seen := map[string]bool{}
	for _, h := range set.Hosts {
		if seen[h] {
			t.Fatalf("duplicate host %s", h)
		}
		seen[h] = true
	}
}

func TestFacade_ToggleResolvesExclusionsPerCall(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	custom := filepath.Join(t.TempDir(), "custom.txt")
	if err := os.WriteFile(custom, []byte("*.corp.example\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg.Proxy.DomesticDomainAllowListFileAbs = custom

	tg := &recordingToggler{platform: domain.PlatformWindows}
	f := NewFacade(cfg, nil, nil, tg)
	tg.exclusions = f.exclusionsFor

	if _, err := f.Toggle(context.Background(), "windows", cfg.Target("127.0.0.1", 1080, false)); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if got := tg.lastSet.String(); got != "localhost;*.corp.example;" {
		t.Fatalf("bypass = %q", got)
	}
}

func autoUpdateServer(t *testing.T, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	body := strings.Repeat("*.example.cn\nqq.com\n", 10)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFacade_ExclusionsPreviewDoesNotDownload(t *testing.T) {
	var hits atomic.Int32
	srv := autoUpdateServer(t, &hits)

	cfg := testConfig(t)
	cfg.Proxy.AutoUpdateDomesticDomainAllowList = true
	cfg.Proxy.RemoteDomesticDomainAllowListURL = srv.URL
	f := NewFacade(cfg, nil, nil, &recordingToggler{platform: domain.PlatformLinux})

	for i := 0; i < 3; i++ {
		if _, err := f.Exclusions("linux"); err != nil {
			t.Fatalf("Exclusions: %v", err)
		}
	}
	if !tasks.Wait(5 * time.Second) {
		t.Fatalf("background tasks did not drain")
	}
	if n := hits.Load(); n != 0 {
		t.Fatalf("preview triggered %d downloads", n)
	}
}

func TestFacade_EnableRefreshFinishesBeforeWaitReturns(t *testing.T) {
	var hits atomic.Int32
	srv := autoUpdateServer(t, &hits)

	cfg := testConfig(t)
	cfg.Proxy.AutoUpdateDomesticDomainAllowList = true
	cfg.Proxy.RemoteDomesticDomainAllowListURL = srv.URL
	tg := &recordingToggler{platform: domain.PlatformLinux}
	f := NewFacade(cfg, nil, nil, tg)
	tg.exclusions = f.exclusionsFor

	if _, err := f.Enable(context.Background(), "linux", "127.0.0.1", 1080, false); err != nil {
		t.Fatalf("Enable: %v", err)
	}
	if !tasks.Wait(5 * time.Second) {
		t.Fatalf("background refresh did not drain")
	}
	if n := hits.Load(); n != 1 {
		t.Fatalf("expected one download, got %d", n)
	}
	st, err := f.AllowlistStatus()
	if err != nil {
		t.Fatalf("AllowlistStatus: %v", err)
	}
	if st.Source != domain.AllowlistCache {
		t.Fatalf("expected the cache to be written by the refresh, got %+v", st)
	}
}

func TestFacade_AllowlistStatusAndRefresh(t *testing.T) {
	t.Parallel()

	body := strings.Repeat("*.example.cn\nqq.com\n", 10) + "; Update Date: 2024-05-01T00:00:00+08:00\n"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	cfg := testConfig(t)
	cfg.Proxy.RemoteDomesticDomainAllowListURL = srv.URL
	f := NewFacade(cfg, nil, srv.Client(), &recordingToggler{platform: domain.PlatformLinux})

	before, err := f.AllowlistStatus()
	if err != nil {
		t.Fatalf("AllowlistStatus: %v", err)
	}
	if before.Source != domain.AllowlistBuiltin {
		t.Fatalf("expected builtin source, got %s", before.Source)
	}

	if err := f.RefreshAllowlist(context.Background()); err != nil {
		t.Fatalf("RefreshAllowlist: %v", err)
	}
	after, err := f.AllowlistStatus()
	if err != nil {
		t.Fatalf("AllowlistStatus: %v", err)
	}
	if after.Source != domain.AllowlistCache || after.Entries != 20 || after.UpdatedAt == nil {
		t.Fatalf("unexpected status: %+v", after)
	}
	if after.Path != filepath.Join(cfg.UserBasePath(), allowlist.CacheFileName) {
		t.Fatalf("path = %s", after.Path)
	}
}

func TestFacade_Jobs(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	f := NewFacade(cfg, nil, nil, &recordingToggler{platform: domain.PlatformLinux})
	if len(f.Jobs()) != 0 {
		t.Fatalf("no job without auto update")
	}

	cfg.Proxy.AutoUpdateDomesticDomainAllowList = true
	cfg.Proxy.RemoteDomesticDomainAllowListURL = "https://example.test/list.txt"
	jobs := f.Jobs()
	if len(jobs) != 1 || jobs[0].Run == nil {
		t.Fatalf("expected refresh job, got %+v", jobs)
	}
}
