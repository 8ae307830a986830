package llm

import (
	"fmt"
	"net/http"
	"os"
	"slices"
	"strings"
	"sync"
)

// Provider adapts one wire protocol. Implementations register themselves
// from llm/providers at init time.
type Provider interface {
	// Name is the value used in Endpoint.Provider and the config file.
	Name() string

	// BuildURL returns the chat endpoint for baseURL; empty means the provider default.
	BuildURL(baseURL string) string

	// KeyEnv is the environment variable holding the API key, or "" if the
	// provider needs none.
	KeyEnv() string

	// SetHeaders sets auth and protocol headers. apiKey may be empty.
	SetHeaders(req *http.Request, apiKey string)

	// BuildRequestBody encodes a chat request. A nil temperature leaves the
	// provider default in place.
	BuildRequestBody(model string, messages []Message, temperature *float64, maxTokens int) ([]byte, error)

	// ParseResponse decodes a 200 response body.
	ParseResponse(body []byte, model string) (*Response, error)
}

var (
	providerMu       sync.RWMutex
	providerRegistry = map[string]Provider{}
)

// RegisterProvider adds p, replacing any provider with the same name.
func RegisterProvider(p Provider) {
	providerMu.Lock()
	defer providerMu.Unlock()
	providerRegistry[p.Name()] = p
}

// GetProvider returns the named provider or nil.
func GetProvider(name string) Provider {
	providerMu.RLock()
	defer providerMu.RUnlock()
	return providerRegistry[name]
}

// ListProviders returns the registered names in sorted order.
func ListProviders() []string {
	providerMu.RLock()
	defer providerMu.RUnlock()
	names := make([]string, 0, len(providerRegistry))
	for name := range providerRegistry {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// ResolveProvider is GetProvider with a fatal error naming the alternatives.
func ResolveProvider(name string) (Provider, error) {
	if p := GetProvider(name); p != nil {
		return p, nil
	}
	return nil, NewFatalError(fmt.Errorf("unknown provider %q (registered: %s)",
		name, strings.Join(ListProviders(), ", ")))
}

// KeyEnv returns the API key variable of the named provider, or "".
func KeyEnv(provider string) string {
	if p := GetProvider(provider); p != nil {
		return p.KeyEnv()
	}
	return ""
}

// apiKey prefers the endpoint's explicit key over the provider's variable.
func apiKey(p Provider, ep Endpoint) string {
	if ep.APIKey != "" {
		return ep.APIKey
	}
	if env := p.KeyEnv(); env != "" {
		return os.Getenv(env)
	}
	return ""
}
