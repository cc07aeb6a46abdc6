package feed

import (
	"fmt"
	"sort"
	"strings"
)

// Settings carries the provider name and its FEED_OPT_* options.
type Settings struct {
	Provider string
	Options  map[string]string
}

// Factory builds a provider from settings.
type Factory func(Settings) (Provider, error)

// Registry maps provider names to factories.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a factory under a normalized provider name.
func (r *Registry) Register(provider string, factory Factory) error {
	key, err := normalizeProvider(provider)
	if err != nil {
		return err
	}
	if _, exists := r.factories[key]; exists {
		return fmt.Errorf("feed provider %q already registered", key)
	}
	r.factories[key] = factory
	return nil
}

// Providers returns the registered provider names, sorted.
func (r *Registry) Providers() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Create builds a provider by name.
func (r *Registry) Create(provider string, options map[string]string) (Provider, error) {
	key, err := normalizeProvider(provider)
	if err != nil {
		return nil, err
	}
	factory, ok := r.factories[key]
	if !ok {
		allowed := strings.Join(r.Providers(), ", ")
		if allowed == "" {
			allowed = "<none>"
		}
		return nil, fmt.Errorf("unknown feed provider %q, allowed: %s", key, allowed)
	}
	if options == nil {
		options = map[string]string{}
	}
	return factory(Settings{Provider: key, Options: options})
}

// CreateFromEnv builds a provider from FEED_PROVIDER and FEED_OPT_* entries
// of an environment map.
func (r *Registry) CreateFromEnv(environ map[string]string, defaultProvider string) (Provider, error) {
	provider := environ["FEED_PROVIDER"]
	if strings.TrimSpace(provider) == "" {
		provider = defaultProvider
	}
	return r.Create(provider, ExtractOptions(environ))
}

// ExtractOptions collects FEED_OPT_* entries with lowercased option names.
func ExtractOptions(environ map[string]string) map[string]string {
	options := make(map[string]string)
	for key, value := range environ {
		if !strings.HasPrefix(key, "FEED_OPT_") {
			continue
		}
		name := strings.ToLower(strings.TrimPrefix(key, "FEED_OPT_"))
		if name == "" {
			continue
		}
		options[name] = value
	}
	return options
}

// DefaultRegistry returns a registry with the built-in providers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	_ = r.Register("binance", func(s Settings) (Provider, error) {
		return NewBinanceProvider(BinanceOptions{
			BaseURL: s.Options["base_url"],
			WSURL:   s.Options["ws_url"],
			Quote:   s.Options["quote"],
		}), nil
	})
	_ = r.Register("stub", func(s Settings) (Provider, error) {
		return NewStubProvider(), nil
	})
	return r
}

func normalizeProvider(value string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(value))
	if key == "" {
		return "", fmt.Errorf("feed provider cannot be empty")
	}
	return key, nil
}
