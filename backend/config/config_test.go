package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"sysproxy/backend/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_KeepsExclusionOrderAndDottedHosts(t *testing.T) {
	path := writeConfig(t, `
proxy:
  proxyHttp: false
  excludeIpList:
    "*.example.cn": false
    10.0.0.1: true
    localhost: true
  remoteDomesticDomainAllowListFileUrl: https://example.test/list.txt
server:
  setting:
    userBasePath: /tmp/sysproxy-test
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	want := domain.ExclusionList{
		{Host: "*.example.cn", Exclude: false},
		{Host: "10.0.0.1", Exclude: true},
		{Host: "localhost", Exclude: true},
	}
	if len(cfg.Proxy.ExcludeIPList) != len(want) {
		t.Fatalf("exclusions = %+v", cfg.Proxy.ExcludeIPList)
	}
	for i := range want {
		if cfg.Proxy.ExcludeIPList[i] != want[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, cfg.Proxy.ExcludeIPList[i], want[i])
		}
	}
	if cfg.Proxy.ProxyHTTP {
		t.Fatalf("proxyHttp should be false")
	}
	if cfg.UserBasePath() != "/tmp/sysproxy-test" {
		t.Fatalf("userBasePath = %q", cfg.UserBasePath())
	}

	opts := cfg.ExclusionOptions()
	if opts.RemoteURL != "https://example.test/list.txt" || !opts.IncludeDomesticAllowList || !opts.AutoUpdate {
		t.Fatalf("unexpected options: %+v", opts)
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Proxy.ProxyHTTP || !cfg.Proxy.ExcludeDomesticDomainAllowList {
		t.Fatalf("defaults not applied: %+v", cfg.Proxy)
	}
	if cfg.Proxy.RemoteDomesticDomainAllowListURL != DefaultRemoteAllowListURL {
		t.Fatalf("remote url = %q", cfg.Proxy.RemoteDomesticDomainAllowListURL)
	}
	if len(cfg.Proxy.ExcludeIPList) != len(DefaultExclusions()) {
		t.Fatalf("expected default exclusions, got %+v", cfg.Proxy.ExcludeIPList)
	}
	if cfg.File != "" {
		t.Fatalf("File should be empty, got %q", cfg.File)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SYSPROXY_PROXY_EXCLUDEDOMESTICDOMAINALLOWLIST", "false")

	cfg, err := Load(writeConfig(t, "proxy:\n  proxyHttp: true\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Proxy.ExcludeDomesticDomainAllowList {
		t.Fatalf("env override not applied")
	}
}

func TestLoad_RejectsNonBoolExclusion(t *testing.T) {
	_, err := Load(writeConfig(t, "proxy:\n  excludeIpList:\n    localhost: maybe\n"))
	if !errors.Is(err, domain.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestLoad_EmptyExclusionMap(t *testing.T) {
	cfg, err := Load(writeConfig(t, "proxy:\n  excludeIpList: {}\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Proxy.ExcludeIPList) != 0 {
		t.Fatalf("expected empty list, got %+v", cfg.Proxy.ExcludeIPList)
	}
}

func TestTarget(t *testing.T) {
	cfg := &Config{}
	cfg.Proxy.ProxyHTTP = true

	if got := cfg.Target("", 1080, true); got.Enabled() {
		t.Fatalf("empty ip must disable, got %+v", got)
	}
	got := cfg.Target(" 127.0.0.1 ", 31181, true)
	if got.IP != "127.0.0.1" || !got.HTTPEnabled || !got.SyncEnv || got.Port != 31181 {
		t.Fatalf("unexpected target: %+v", got)
	}
}

func TestHandle_LoadsOnce(t *testing.T) {
	path := writeConfig(t, "proxy:\n  proxyHttp: false\n")
	h := NewHandle(path)

	first, err := h.Get()
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if err := os.WriteFile(path, []byte("proxy:\n  proxyHttp: true\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	second, _ := h.Get()
	if first != second || second.Proxy.ProxyHTTP {
		t.Fatalf("handle reloaded the file")
	}

	pre := &Config{}
	if got, _ := FromConfig(pre).Get(); got != pre {
		t.Fatalf("FromConfig should return the wrapped config")
	}
}
