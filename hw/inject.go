package hw

import (
	"fmt"
	"sync"
)

// Injector gates fault injection. Simulators embed it; a fault request while
// injection is disabled is a usage error, so faults can never leak into
// tests that did not ask for them.
type Injector struct {
	mu      sync.Mutex
	enabled bool
}

// EnableFaultInjection arms fault injection for this instance.
func (i *Injector) EnableFaultInjection() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.enabled = true
}

// DisableFaultInjection disarms fault injection.
func (i *Injector) DisableFaultInjection() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.enabled = false
}

// InjectionEnabled reports whether fault injection is armed.
func (i *Injector) InjectionEnabled() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.enabled
}

// Guard returns ErrInjectionDisabled unless injection is armed.
func (i *Injector) Guard() error {
	if !i.InjectionEnabled() {
		return fmt.Errorf("inject fault: %w", ErrInjectionDisabled)
	}
	return nil
}
