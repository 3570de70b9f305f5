package sysproxy

import (
	"context"
	"log"
	"os/exec"
	"strconv"
	"strings"

	"sysproxy/backend/domain"
	"sysproxy/backend/service/exclusion"
	"sysproxy/backend/service/shared"
)

const (
	gnomeProxySchema = "org.gnome.system.proxy"
	gnomeHTTPSSchema = "org.gnome.system.proxy.https"
	gnomeHTTPSchema  = "org.gnome.system.proxy.http"
)

// Gnome writes the proxy through gsettings. There is no fallback: the first
// failing command aborts the batch.
type Gnome struct {
	exec       shared.Executor
	exclusions ExclusionFunc
	gsettings  string
}

func NewGnome(exec shared.Executor, exclusions ExclusionFunc) *Gnome {
	if exclusions == nil {
		exclusions = noExclusions
	}
	return &Gnome{exec: exec, exclusions: exclusions, gsettings: findGSettings()}
}

func (g *Gnome) Platform() domain.Platform { return domain.PlatformLinux }

func (g *Gnome) Apply(ctx context.Context, target domain.ProxyTarget) (domain.ToggleResult, error) {
	res := domain.NewToggleResult(domain.PlatformLinux, target)

	var cmds []shared.Command
	if target.Enabled() {
		set := g.exclusions(exclusion.SeparatorLinux)
		log.Printf("[SystemProxy] gnome enable: %s:%d (%d ignore hosts)", target.IP, target.Port, set.Len())
		cmds = GnomeEnableCommands(g.gsettings, target, set.Hosts)
	} else {
		log.Printf("[SystemProxy] gnome disable")
		cmds = GnomeDisableCommands(g.gsettings)
	}

	if err := g.exec.ExecuteBatch(ctx, cmds); err != nil {
		err = &domain.ToggleError{Platform: domain.PlatformLinux, Mechanism: domain.MechanismPrimary, Step: string(res.Action), Err: err}
		return res.Fail(err), err
	}
	return res.Commit(domain.MechanismPrimary), nil
}

// GnomeEnableCommands returns mode, https, http (or its reset) and ignore-hosts, in that order.
func GnomeEnableCommands(gsettings string, target domain.ProxyTarget, hosts []string) []shared.Command {
	cmds := []shared.Command{
		shared.Cmd(gsettings, "set", gnomeProxySchema, "mode", "manual"),
		shared.Cmd(gsettings, "set", gnomeHTTPSSchema, "host", gvariantString(target.IP)),
		shared.Cmd(gsettings, "set", gnomeHTTPSSchema, "port", strconv.Itoa(target.Port)),
	}
	if target.HTTPEnabled {
		cmds = append(cmds,
			shared.Cmd(gsettings, "set", gnomeHTTPSchema, "host", gvariantString(target.IP)),
			shared.Cmd(gsettings, "set", gnomeHTTPSchema, "port", strconv.Itoa(target.HTTPPort())),
		)
	} else {
		cmds = append(cmds,
			shared.Cmd(gsettings, "set", gnomeHTTPSchema, "host", "''"),
			shared.Cmd(gsettings, "set", gnomeHTTPSchema, "port", "0"),
		)
	}
	return append(cmds, shared.Cmd(gsettings, "set", gnomeProxySchema, "ignore-hosts", GnomeIgnoreHosts(hosts)))
}

func GnomeDisableCommands(gsettings string) []shared.Command {
	return []shared.Command{shared.Cmd(gsettings, "set", gnomeProxySchema, "mode", "none")}
}

// GnomeIgnoreHosts renders hosts as a GVariant string array, e.g. ['a', 'b'].
func GnomeIgnoreHosts(hosts []string) string {
	if len(hosts) == 0 {
		return "[]"
	}
	quoted := make([]string, len(hosts))
	for i, h := range hosts {
		quoted[i] = escapeGVariant(h)
	}
	return "['" + strings.Join(quoted, exclusion.SeparatorLinux) + "']"
}

func gvariantString(s string) string {
	return "'" + escapeGVariant(s) + "'"
}

func escapeGVariant(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func findGSettings() string {
	if p, err := exec.LookPath("gsettings"); err == nil {
		return p
	}
	for _, p := range []string{"/usr/bin/gsettings", "/bin/gsettings", "/usr/local/bin/gsettings"} {
		if _, err := exec.LookPath(p); err == nil {
			return p
		}
	}
	return "gsettings"
}
