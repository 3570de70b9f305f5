// Package config loads the proxy settings with viper. The ordered exclusion
// map is decoded from the same file with yaml.v3.
package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"sysproxy/backend/domain"
	"sysproxy/backend/service/exclusion"
	"sysproxy/backend/service/shared"
)

const (
	EnvPrefix = "SYSPROXY"

	DefaultRemoteAllowListURL = "https://raw.githubusercontent.com/docmirror/dev-sidecar/master/packages/core/src/config/domestic-domain-allowlist.txt"
	DefaultSysproxyExePath    = "extra/sysproxy.exe"
	DefaultListenAddr         = "127.0.0.1:19080"
)

// Proxy 对应配置文件的 proxy 段
type Proxy struct {
	ProxyHTTP                         bool                 `mapstructure:"proxyhttp"`
	ExcludeIPList                     domain.ExclusionList `mapstructure:"-"`
	ExcludeDomesticDomainAllowList    bool                 `mapstructure:"excludedomesticdomainallowlist"`
	AutoUpdateDomesticDomainAllowList bool                 `mapstructure:"autoupdatedomesticdomainallowlist"`
	DomesticDomainAllowListFileAbs    string               `mapstructure:"domesticdomainallowlistfileabsolutepath"`
	RemoteDomesticDomainAllowListURL  string               `mapstructure:"remotedomesticdomainallowlistfileurl"`
	DomesticDomainAllowListFilePath   string               `mapstructure:"domesticdomainallowlistfilepath"`
	SysproxyExePath                   string               `mapstructure:"sysproxyexepath"`
}

type Server struct {
	Listen string `mapstructure:"listen"`

	// AllowOrigins 允许跨域调用控制 API 的 Origin，默认为空（拒绝所有跨域请求）
	AllowOrigins []string `mapstructure:"alloworigins"`

	Setting struct {
		UserBasePath string `mapstructure:"userbasepath"`
	} `mapstructure:"setting"`
}

type Config struct {
	Proxy  Proxy  `mapstructure:"proxy"`
	Server Server `mapstructure:"server"`

	// File 实际读取的配置文件，未找到时为空
	File string `mapstructure:"-"`
}

// DefaultExclusions is used when the file has no proxy.excludeIpList.
func DefaultExclusions() domain.ExclusionList {
	return domain.ExclusionList{
		{Host: "localhost", Exclude: true},
		{Host: "127.0.0.1", Exclude: true},
		{Host: "[::1]", Exclude: true},
		{Host: "10.*", Exclude: true},
		{Host: "192.168.*", Exclude: true},
		{Host: "*.local", Exclude: true},
	}
}

// DefaultConfigPaths lists where Load looks when no file is given.
func DefaultConfigPaths() []string {
	paths := make([]string, 0, 2)
	if dir, err := os.UserConfigDir(); err == nil && dir != "" {
		paths = append(paths, filepath.Join(dir, "sysproxy"))
	}
	return append(paths, ".")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetDefault("proxy.proxyHttp", true)
	v.SetDefault("proxy.excludeDomesticDomainAllowList", true)
	v.SetDefault("proxy.autoUpdateDomesticDomainAllowList", true)
	v.SetDefault("proxy.domesticDomainAllowListFileAbsolutePath", "")
	v.SetDefault("proxy.remoteDomesticDomainAllowListFileUrl", DefaultRemoteAllowListURL)
	v.SetDefault("proxy.domesticDomainAllowListFilePath", "")
	v.SetDefault("proxy.sysproxyExePath", DefaultSysproxyExePath)
	v.SetDefault("server.listen", DefaultListenAddr)
	v.SetDefault("server.allowOrigins", []string{})
	v.SetDefault("server.setting.userBasePath", shared.UserDataRoot())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads cfgFile (or the first config.yaml in DefaultConfigPaths),
// applies SYSPROXY_* env overrides and fills defaults. A missing file is not
// an error; a malformed one is.
func Load(cfgFile string) (*Config, error) {
	v := newViper()
	v.SetConfigType("yaml")
	if cfgFile = strings.TrimSpace(cfgFile); cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		for _, p := range DefaultConfigPaths() {
			v.AddConfigPath(p)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
			log.Printf("[Config] no config file found, using defaults")
		case cfgFile != "" && errors.Is(err, os.ErrNotExist):
			log.Printf("[Config] config file %s not found, using defaults", cfgFile)
		default:
			return nil, fmt.Errorf("%w: read config: %v", domain.ErrConfiguration, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: decode config: %v", domain.ErrConfiguration, err)
	}
	cfg.File = v.ConfigFileUsed()
	if cfg.File != "" {
		if _, err := os.Stat(cfg.File); err != nil {
			cfg.File = ""
		}
	}

	list, err := readExclusions(cfg.File)
	if err != nil {
		return nil, err
	}
	if list == nil {
		list = DefaultExclusions()
	}
	cfg.Proxy.ExcludeIPList = list

	if cfg.File != "" {
		log.Printf("[Config] using %s", cfg.File)
	}
	return cfg, nil
}

// readExclusions decodes proxy.excludeIpList keeping key order and dotted hosts.
// Returns nil when the file or key is absent.
func readExclusions(path string) (domain.ExclusionList, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", domain.ErrConfiguration, path, err)
	}
	var doc struct {
		Proxy struct {
			ExcludeIPList *domain.ExclusionList `yaml:"excludeIpList"`
		} `yaml:"proxy"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", domain.ErrConfiguration, path, err)
	}
	if doc.Proxy.ExcludeIPList == nil {
		return nil, nil
	}
	if *doc.Proxy.ExcludeIPList == nil {
		return domain.ExclusionList{}, nil
	}
	return *doc.Proxy.ExcludeIPList, nil
}

// UserBasePath is where the allowlist cache and logs live.
func (c *Config) UserBasePath() string {
	if p := strings.TrimSpace(c.Server.Setting.UserBasePath); p != "" {
		return p
	}
	return shared.UserDataRoot()
}

// SysproxyExe resolves the Windows helper relative to the executable directory.
func (c *Config) SysproxyExe() string {
	return shared.ResolveShippedPath(c.Proxy.SysproxyExePath)
}

// ExclusionOptions is the slice the exclusion resolver reads.
func (c *Config) ExclusionOptions() exclusion.Options {
	return exclusion.Options{
		Exclusions:               c.Proxy.ExcludeIPList,
		IncludeDomesticAllowList: c.Proxy.ExcludeDomesticDomainAllowList,
		AutoUpdate:               c.Proxy.AutoUpdateDomesticDomainAllowList,
		CustomAllowListPath:      strings.TrimSpace(c.Proxy.DomesticDomainAllowListFileAbs),
		RemoteURL:                strings.TrimSpace(c.Proxy.RemoteDomesticDomainAllowListURL),
	}
}

// Target builds a toggle request using the configured HTTP port policy.
func (c *Config) Target(ip string, port int, syncEnv bool) domain.ProxyTarget {
	if strings.TrimSpace(ip) == "" {
		return domain.DisableTarget()
	}
	return domain.ProxyTarget{IP: strings.TrimSpace(ip), Port: port, HTTPEnabled: c.Proxy.ProxyHTTP, SyncEnv: syncEnv}
}

// Handle loads the configuration lazily, at most once.
type Handle struct {
	path string
	once sync.Once
	cfg  *Config
	err  error
}

func NewHandle(path string) *Handle {
	return &Handle{path: path}
}

// FromConfig wraps an already loaded configuration.
func FromConfig(cfg *Config) *Handle {
	h := &Handle{cfg: cfg}
	h.once.Do(func() {})
	return h
}

func (h *Handle) Get() (*Config, error) {
	h.once.Do(func() {
		h.cfg, h.err = Load(h.path)
	})
	return h.cfg, h.err
}
