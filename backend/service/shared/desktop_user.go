package shared

import (
	"fmt"
	"log"
	"os"
	"os/user"
	"strconv"
	"strings"
)

// resolveTargetUser 解析应写入系统代理设置的桌面用户
func resolveTargetUser() string {
	// 1. sudo 提权
	if u := strings.TrimSpace(os.Getenv("SUDO_USER")); u != "" {
		return u
	}
	// 2. pkexec 提权
	if uid := strings.TrimSpace(os.Getenv("PKEXEC_UID")); uid != "" {
		if byUID, err := user.LookupId(uid); err == nil {
			return byUID.Username
		}
	}
	// 3. systemd 登录会话
	if data, err := os.ReadFile("/proc/self/loginuid"); err == nil {
		uid := strings.TrimSpace(string(data))
		if uid != "" && uid != "4294967295" {
			if byUID, err := user.LookupId(uid); err == nil {
				return byUID.Username
			}
		}
	}
	if current, err := user.Current(); err == nil {
		return current.Username
	}
	return ""
}

// buildUserEnv 为目标用户构造 HOME/USER 以及 DBUS 会话地址
func buildUserEnv(username string) map[string]string {
	env := make(map[string]string)
	if username == "" {
		return env
	}
	u, err := user.Lookup(username)
	if err != nil {
		return env
	}
	env["HOME"] = u.HomeDir
	env["USER"] = username
	env["LOGNAME"] = username

	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return env
	}
	runtimeDir := fmt.Sprintf("/run/user/%d", uid)
	busPath := runtimeDir + "/bus"
	if _, err := os.Stat(busPath); err == nil {
		env["XDG_RUNTIME_DIR"] = runtimeDir
		env["DBUS_SESSION_BUS_ADDRESS"] = "unix:path=" + busPath
	}
	return env
}

// ensureDBUSSession falls back to the current process's session bus.
func ensureDBUSSession(env map[string]string) {
	if env == nil || env["DBUS_SESSION_BUS_ADDRESS"] != "" {
		return
	}
	if dbus := os.Getenv("DBUS_SESSION_BUS_ADDRESS"); dbus != "" {
		env["DBUS_SESSION_BUS_ADDRESS"] = dbus
		return
	}
	path := fmt.Sprintf("/run/user/%d/bus", os.Getuid())
	if _, err := os.Stat(path); err == nil {
		env["DBUS_SESSION_BUS_ADDRESS"] = "unix:path=" + path
		if env["XDG_RUNTIME_DIR"] == "" {
			env["XDG_RUNTIME_DIR"] = fmt.Sprintf("/run/user/%d", os.Getuid())
		}
	}
	log.Printf("[SystemProxy] DBUS_SESSION_BUS_ADDRESS resolved to: %s", env["DBUS_SESSION_BUS_ADDRESS"])
}
