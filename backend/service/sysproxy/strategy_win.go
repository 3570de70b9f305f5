package sysproxy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"sysproxy/backend/domain"
	"sysproxy/backend/service/exclusion"
	"sysproxy/backend/service/shared"
)

const (
	envHTTPSProxy = "HTTPS_PROXY"
	envHTTPProxy  = "HTTP_PROXY"
)

// SystemAPI is the in-process proxy switch (WinINet on Windows).
type SystemAPI interface {
	SetProxy(enable bool, server, bypass string) error
}

// Windows sets the proxy through SystemAPI and falls back to the sysproxy.exe
// helper. When both fail the SystemAPI error is returned.
type Windows struct {
	api        SystemAPI
	exec       shared.Executor
	env        shared.EnvStore
	exclusions ExclusionFunc
	helperPath string
}

func NewWindows(api SystemAPI, exec shared.Executor, env shared.EnvStore, exclusions ExclusionFunc, helperPath string) *Windows {
	if exclusions == nil {
		exclusions = noExclusions
	}
	return &Windows{api: api, exec: exec, env: env, exclusions: exclusions, helperPath: strings.TrimSpace(helperPath)}
}

func (w *Windows) Platform() domain.Platform { return domain.PlatformWindows }

func (w *Windows) Apply(ctx context.Context, target domain.ProxyTarget) (domain.ToggleResult, error) {
	res := domain.NewToggleResult(domain.PlatformWindows, target)

	var (
		mech domain.Mechanism
		err  error
	)
	if target.Enabled() {
		mech, err = w.enable(ctx, &res, target)
	} else {
		mech, err = w.disable(ctx, &res)
	}
	if err != nil {
		return res.Fail(err), err
	}
	return res.Commit(mech), nil
}

// WindowsProxyServer builds the WinINet ProxyServer value.
func WindowsProxyServer(target domain.ProxyTarget) string {
	addr := fmt.Sprintf("https=http://%s:%d", target.IP, target.Port)
	if target.HTTPEnabled {
		addr = fmt.Sprintf("http=http://%s:%d;%s", target.IP, target.HTTPPort(), addr)
	}
	return addr
}

func (w *Windows) enable(ctx context.Context, res *domain.ToggleResult, target domain.ProxyTarget) (domain.Mechanism, error) {
	server := WindowsProxyServer(target)
	bypass := w.exclusions(exclusion.SeparatorWindows)
	log.Printf("[SystemProxy] windows enable: %s (%d bypass hosts)", server, bypass.Len())

	mech, err := w.primaryOrFallback(ctx, res, "enable",
		func() error { return w.api.SetProxy(true, server, bypass.String()) },
		"global", server, bypass.String())
	if err != nil {
		return mech, err
	}

	if target.SyncEnv {
		w.syncEnv(target)
	}
	return mech, nil
}

func (w *Windows) disable(ctx context.Context, res *domain.ToggleResult) (domain.Mechanism, error) {
	log.Printf("[SystemProxy] windows disable")
	mech, err := w.primaryOrFallback(ctx, res, "disable",
		func() error { return w.api.SetProxy(false, "", "") },
		"set", "1")
	if err != nil {
		return mech, err
	}
	w.clearEnv()
	return mech, nil
}

func (w *Windows) primaryOrFallback(ctx context.Context, res *domain.ToggleResult, step string, primary func() error, helperArgs ...string) (domain.Mechanism, error) {
	primaryErr := w.callPrimary(primary)
	if primaryErr == nil {
		return domain.MechanismPrimary, nil
	}
	*res = res.Fallback()
	log.Printf("[SystemProxy] windows %s via system API failed, trying %s: %v", step, w.helperPath, primaryErr)

	if err := w.callHelper(ctx, helperArgs...); err != nil {
		log.Printf("[SystemProxy] windows %s fallback failed: %v", step, err)
		return domain.MechanismNone, &domain.ToggleError{
			Platform:  domain.PlatformWindows,
			Mechanism: domain.MechanismPrimary,
			Step:      step,
			Err:       primaryErr,
		}
	}
	log.Printf("[SystemProxy] windows %s via helper succeeded: %s", step, shared.Cmd(w.helperPath, helperArgs...))
	return domain.MechanismFallback, nil
}

func (w *Windows) callPrimary(fn func() error) (err error) {
	if w.api == nil {
		return domain.ErrProxyUnsupported
	}
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("system API panicked: %v", p)
		}
	}()
	return fn()
}

func (w *Windows) callHelper(ctx context.Context, args ...string) error {
	if w.exec == nil || w.helperPath == "" {
		return errors.New("sysproxy helper not configured")
	}
	return w.exec.ExecFile(ctx, w.helperPath, args...)
}

// syncEnv persists HTTPS_PROXY (and HTTP_PROXY) for new processes. Failures are logged only.
func (w *Windows) syncEnv(target domain.ProxyTarget) {
	if w.env == nil {
		return
	}
	vars := [][2]string{{envHTTPSProxy, fmt.Sprintf("http://%s:%d/", target.IP, target.Port)}}
	if target.HTTPEnabled {
		vars = append(vars, [2]string{envHTTPProxy, fmt.Sprintf("http://%s:%d/", target.IP, target.HTTPPort())})
	}
	for _, kv := range vars {
		log.Printf("[SystemProxy] set user env %s = %q", kv[0], kv[1])
		if err := w.env.Set(kv[0], kv[1]); err != nil {
			log.Printf("[SystemProxy] set user env %s failed: %v", kv[0], err)
		}
	}
}

// clearEnv removes HTTPS_PROXY and HTTP_PROXY when present. Failures are logged only.
func (w *Windows) clearEnv() {
	if w.env == nil {
		return
	}
	for _, name := range []string{envHTTPSProxy, envHTTPProxy} {
		if _, err := w.env.Get(name); err != nil {
			if !errors.Is(err, domain.ErrNotFound) {
				log.Printf("[SystemProxy] read user env %s failed: %v", name, err)
			}
			continue
		}
		if err := w.env.Remove(name); err != nil {
			log.Printf("[SystemProxy] remove user env %s failed: %v", name, err)
			continue
		}
		log.Printf("[SystemProxy] removed user env %s", name)
	}
}
