//go:build windows
// +build windows

package shared

import (
	"errors"
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"

	"sysproxy/backend/domain"
)

const (
	hwndBroadcast    = 0xffff
	wmSettingChange  = 0x001A
	smtoAbortIfHung  = 0x0002
	broadcastTimeout = 5000
)

var (
	user32                  = windows.NewLazySystemDLL("user32.dll")
	procSendMessageTimeoutW = user32.NewProc("SendMessageTimeoutW")
)

type registryEnvStore struct{}

// NewUserEnvStore 读写 HKCU\Environment，写入后广播 WM_SETTINGCHANGE。
func NewUserEnvStore() EnvStore { return registryEnvStore{} }

func (registryEnvStore) Get(name string) (string, error) {
	k, err := registry.OpenKey(registry.CURRENT_USER, `Environment`, registry.QUERY_VALUE)
	if err != nil {
		return "", err
	}
	defer k.Close()

	v, _, err := k.GetStringValue(name)
	if errors.Is(err, registry.ErrNotExist) {
		return "", fmt.Errorf("env %s: %w", name, domain.ErrNotFound)
	}
	return v, err
}

func (registryEnvStore) Set(name, value string) error {
	k, err := registry.OpenKey(registry.CURRENT_USER, `Environment`, registry.SET_VALUE)
	if err != nil {
		return err
	}
	defer k.Close()

	if err := k.SetStringValue(name, value); err != nil {
		return err
	}
	return broadcastEnvironmentChange()
}

func (registryEnvStore) Remove(name string) error {
	k, err := registry.OpenKey(registry.CURRENT_USER, `Environment`, registry.SET_VALUE)
	if err != nil {
		return err
	}
	defer k.Close()

	if err := k.DeleteValue(name); err != nil {
		if errors.Is(err, registry.ErrNotExist) {
			return nil
		}
		return err
	}
	return broadcastEnvironmentChange()
}

// broadcastEnvironmentChange 通知 Explorer 等进程重新读取用户环境变量（等价于 setx 的副作用）。
func broadcastEnvironmentChange() error {
	param, err := windows.UTF16PtrFromString("Environment")
	if err != nil {
		return err
	}
	var result uintptr
	ret, _, callErr := procSendMessageTimeoutW.Call(
		hwndBroadcast,
		wmSettingChange,
		0,
		uintptr(unsafe.Pointer(param)),
		smtoAbortIfHung,
		broadcastTimeout,
		uintptr(unsafe.Pointer(&result)),
	)
	if ret == 0 {
		if callErr != windows.Errno(0) {
			return callErr
		}
		return fmt.Errorf("SendMessageTimeoutW(WM_SETTINGCHANGE) failed")
	}
	return nil
}
