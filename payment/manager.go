package payment

import (
	"strings"
	"sync"

	"bitbucket.org/openscholar/ujmp_backend/models"
)

var (
	mu       sync.RWMutex
	channels = map[models.PaymentProvider]Channel{}
)

// Register installs a provider channel. Later registrations under the same
// name replace earlier ones, which keeps tests free to swap in fakes.
func Register(ch Channel) {
	mu.Lock()
	defer mu.Unlock()
	channels[ch.Name()] = ch
}

// Get resolves a channel by provider name, case-insensitively. Nil means the
// provider is unknown or not configured.
func Get(name string) Channel {
	mu.RLock()
	defer mu.RUnlock()
	return channels[models.PaymentProvider(strings.ToUpper(name))]
}

// Names lists the registered providers for discovery endpoints.
func Names() []string {
	mu.RLock()
	defer mu.RUnlock()
	names := make([]string, 0, len(channels))
	for name := range channels {
		names = append(names, string(name))
	}
	return names
}
