package sysproxy

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"

	"sysproxy/backend/domain"
	"sysproxy/backend/events"
)

// Dispatcher routes toggle requests to the Toggler registered for a platform.
// The mapping is fixed at construction.
type Dispatcher struct {
	togglers map[domain.Platform]Toggler
	bus      *events.Bus
}

func NewDispatcher(bus *events.Bus, togglers ...Toggler) *Dispatcher {
	m := make(map[domain.Platform]Toggler, len(togglers))
	for _, t := range togglers {
		m[t.Platform()] = t
	}
	return &Dispatcher{togglers: m, bus: bus}
}

// Toggle applies target on platform. Unknown platforms and invalid targets
// fail with domain.ErrConfiguration without touching the OS.
func (d *Dispatcher) Toggle(ctx context.Context, platform domain.Platform, target domain.ProxyTarget) (domain.ToggleResult, error) {
	opID := uuid.NewString()

	t, ok := d.togglers[platform]
	if !ok {
		err := fmt.Errorf("%w: %q", domain.ErrUnsupportedPlatform, platform)
		res := domain.NewToggleResult(platform, target).Fail(err)
		res.OperationID = opID
		return res, err
	}
	if err := target.Validate(); err != nil {
		res := domain.NewToggleResult(platform, target).Fail(err)
		res.OperationID = opID
		return res, err
	}

	log.Printf("[SystemProxy] op=%s platform=%s enable=%v ip=%s port=%d http=%v env=%v",
		opID, platform, target.Enabled(), target.IP, target.Port, target.HTTPEnabled, target.SyncEnv)

	res, err := t.Apply(ctx, target)
	res.OperationID = opID
	if err != nil {
		log.Printf("[SystemProxy] op=%s failed: %v", opID, err)
	} else {
		log.Printf("[SystemProxy] op=%s committed via %s", opID, res.Mechanism)
	}
	d.bus.Publish(events.ToggleEvent{Result: res})
	return res, err
}

// Platforms lists the registered platform IDs.
func (d *Dispatcher) Platforms() []domain.Platform {
	out := make([]domain.Platform, 0, len(d.togglers))
	for _, p := range []domain.Platform{domain.PlatformWindows, domain.PlatformLinux, domain.PlatformMac} {
		if _, ok := d.togglers[p]; ok {
			out = append(out, p)
		}
	}
	return out
}
