//go:build windows

package sysproxy

import (
	"fmt"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

const (
	internetSettingsKey = `Software\Microsoft\Windows\CurrentVersion\Internet Settings`

	winInetOptionSettingsChanged = 39
	winInetOptionRefresh         = 37
)

var (
	wininetDLL            = windows.NewLazySystemDLL("wininet.dll")
	procInternetSetOption = wininetDLL.NewProc("InternetSetOptionW")
)

type winINet struct{}

// NewSystemAPI writes the per-user Internet Settings and notifies WinINet.
func NewSystemAPI() SystemAPI { return winINet{} }

func (winINet) SetProxy(enable bool, server, bypass string) error {
	k, err := registry.OpenKey(registry.CURRENT_USER, internetSettingsKey, registry.SET_VALUE)
	if err != nil {
		return fmt.Errorf("open %s: %w", internetSettingsKey, err)
	}
	defer k.Close()

	if !enable {
		if err := k.SetDWordValue("ProxyEnable", 0); err != nil {
			return fmt.Errorf("ProxyEnable=0: %w", err)
		}
		// 清空，避免 UI 显示遗留值
		_ = k.SetStringValue("ProxyServer", "")
		_ = k.SetStringValue("ProxyOverride", "")
		return notifyWinINet()
	}

	if err := k.SetStringValue("ProxyServer", server); err != nil {
		return fmt.Errorf("ProxyServer: %w", err)
	}
	if err := k.SetStringValue("ProxyOverride", bypass+"<local>"); err != nil {
		return fmt.Errorf("ProxyOverride: %w", err)
	}
	if err := k.SetDWordValue("ProxyEnable", 1); err != nil {
		return fmt.Errorf("ProxyEnable=1: %w", err)
	}
	return notifyWinINet()
}

// notifyWinINet 让已运行的程序立刻读取新设置
func notifyWinINet() error {
	for _, opt := range []uintptr{winInetOptionSettingsChanged, winInetOptionRefresh} {
		ret, _, callErr := procInternetSetOption.Call(0, opt, 0, 0)
		if ret == 0 {
			if callErr != windows.Errno(0) {
				return fmt.Errorf("InternetSetOptionW(%d): %w", opt, callErr)
			}
			return fmt.Errorf("InternetSetOptionW failed (option=%d)", opt)
		}
	}
	return nil
}
