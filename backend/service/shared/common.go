package shared

import (
	"fmt"
	"net"
	"net/http"
	"runtime"
	"time"
)

// Version 写入 User-Agent
var Version = "dev"

const (
	// MaxDownloadSize 白名单文件上限
	MaxDownloadSize = 16 << 20 // 16 MiB
	DownloadTimeout = 2 * time.Minute

	// AllowlistRefreshInterval 后台定时刷新国内域名白名单的周期
	AllowlistRefreshInterval = 24 * time.Hour

	AppLogRetention = 7 * 24 * time.Hour

	// ExitGrace 退出前等待后台任务（如白名单下载）的上限，与单次下载超时一致
	ExitGrace = DownloadTimeout
)

// HTTPClient 默认客户端，遵循环境变量中的代理设置
var HTTPClient = newHTTPClient()

func newHTTPClient() *http.Client {
	tr := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: 30 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
		ForceAttemptHTTP2:   true,
		DisableKeepAlives:   true,
		TLSHandshakeTimeout: 30 * time.Second,
	}
	return &http.Client{
		Timeout:   DownloadTimeout,
		Transport: tr,
	}
}

// UserAgent identifies allowlist downloads.
func UserAgent() string {
	return fmt.Sprintf("sysproxy/%s (%s; %s)", Version, runtime.GOOS, runtime.GOARCH)
}
