package sysproxy

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"sysproxy/backend/domain"
	"sysproxy/backend/service/exclusion"
	"sysproxy/backend/service/shared"
)

// activeServiceScript 找到默认路由所在接口对应的网络服务行，形如 "(1) Wi-Fi"
const activeServiceScript = "networksetup -listnetworkserviceorder | grep `route -n get 0.0.0.0 | grep 'interface' | cut -d ':' -f2` -B 1 | head -n 1"

// Mac drives networksetup for the network service behind the default route.
type Mac struct {
	exec       shared.Executor
	exclusions ExclusionFunc
}

func NewMac(exec shared.Executor, exclusions ExclusionFunc) *Mac {
	if exclusions == nil {
		exclusions = noExclusions
	}
	return &Mac{exec: exec, exclusions: exclusions}
}

func (m *Mac) Platform() domain.Platform { return domain.PlatformMac }

func (m *Mac) Apply(ctx context.Context, target domain.ProxyTarget) (domain.ToggleResult, error) {
	res := domain.NewToggleResult(domain.PlatformMac, target)
	fail := func(step string, err error) (domain.ToggleResult, error) {
		err = &domain.ToggleError{Platform: domain.PlatformMac, Mechanism: domain.MechanismPrimary, Step: step, Err: err}
		return res.Fail(err), err
	}

	service, err := m.activeService(ctx)
	if err != nil {
		return fail("discover network service", err)
	}

	var cmds []shared.Command
	if target.Enabled() {
		set := m.exclusions(exclusion.SeparatorMac)
		log.Printf("[SystemProxy] mac enable on %q: %s:%d (%d bypass domains)", service, target.IP, target.Port, set.Len())
		cmds = MacEnableCommands(service, target, set.Hosts)
	} else {
		log.Printf("[SystemProxy] mac disable on %q", service)
		cmds = MacDisableCommands(service)
	}
	if err := m.exec.ExecuteBatch(ctx, cmds); err != nil {
		return fail(string(res.Action), err)
	}
	return res.Commit(domain.MechanismPrimary), nil
}

func (m *Mac) activeService(ctx context.Context) (string, error) {
	out, err := m.exec.Execute(ctx, "sh", "-c", activeServiceScript)
	if err != nil {
		return "", err
	}
	name := ParseServiceName(out)
	if name == "" {
		return "", fmt.Errorf("no active network service in %q", strings.TrimSpace(out))
	}
	return name, nil
}

// ParseServiceName strips the "(n)" order prefix from a -listnetworkserviceorder line.
func ParseServiceName(line string) string {
	line = strings.TrimSpace(line)
	if i := strings.IndexByte(line, ' '); i >= 0 {
		return strings.TrimSpace(line[i:])
	}
	return line
}

func MacEnableCommands(service string, target domain.ProxyTarget, hosts []string) []shared.Command {
	cmds := []shared.Command{
		shared.Cmd("networksetup", "-setsecurewebproxy", service, target.IP, strconv.Itoa(target.Port)),
	}
	if target.HTTPEnabled {
		cmds = append(cmds, shared.Cmd("networksetup", "-setwebproxy", service, target.IP, strconv.Itoa(target.HTTPPort())))
	} else {
		cmds = append(cmds, shared.Cmd("networksetup", "-setwebproxystate", service, "off"))
	}

	// networksetup 用 "Empty" 清空绕过列表
	bypass := append([]string{"-setproxybypassdomains", service}, hosts...)
	if len(hosts) == 0 {
		bypass = append(bypass, "Empty")
	}
	return append(cmds, shared.Cmd("networksetup", bypass...))
}

func MacDisableCommands(service string) []shared.Command {
	return []shared.Command{
		shared.Cmd("networksetup", "-setsecurewebproxystate", service, "off"),
		shared.Cmd("networksetup", "-setwebproxystate", service, "off"),
	}
}
