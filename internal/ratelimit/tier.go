package ratelimit

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Tier is a named budget: at most Requests calls per Window.
type Tier struct {
	Name     string
	Requests int
	Window   time.Duration
}

func (t Tier) String() string {
	return fmt.Sprintf("%s(%d/%s)", t.Name, t.Requests, t.Window)
}

func (t Tier) validate() error {
	var errs []error
	if t.Requests < 1 {
		errs = append(errs, fmt.Errorf("tier %q: requests must be >= 1", t.Name))
	}
	if t.Window <= 0 {
		errs = append(errs, fmt.Errorf("tier %q: window must be > 0", t.Name))
	}
	return errors.Join(errs...)
}

var (
	Strict     = Tier{Name: "strict", Requests: 5, Window: 10 * time.Second}
	Standard   = Tier{Name: "standard", Requests: 30, Window: time.Minute}
	Permissive = Tier{Name: "permissive", Requests: 100, Window: time.Minute}
)

// Custom builds an ad hoc tier for a single route.
func Custom(requests int, window time.Duration) Tier {
	return Tier{Name: "custom", Requests: requests, Window: window}
}

// Tiers is the static tier table, looked up by name at route registration.
type Tiers map[string]Tier

// DefaultTiers returns a fresh copy of the built-in table.
func DefaultTiers() Tiers {
	return Tiers{
		Strict.Name:     Strict,
		Standard.Name:   Standard,
		Permissive.Name: Permissive,
	}
}

// Get returns the named tier, falling back to Standard for unknown names.
func (ts Tiers) Get(name string) Tier {
	if t, ok := ts[name]; ok {
		return t
	}
	return Standard
}

func (ts Tiers) Names() []string {
	out := make([]string, 0, len(ts))
	for n := range ts {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

type tierFile struct {
	Requests int           `koanf:"requests"`
	Window   time.Duration `koanf:"window"`
}

// LoadTiers reads tier overrides from a YAML file of the form
//
//	tiers:
//	  strict: {requests: 3, window: 10s}
//	  uploads: {requests: 10, window: 1m}
//
// and merges them over the defaults. An empty path returns the defaults.
func LoadTiers(path string) (Tiers, error) {
	tiers := DefaultTiers()
	if path == "" {
		return tiers, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load rate limit tiers %s: %w", path, err)
	}

	var raw map[string]tierFile
	if err := k.Unmarshal("tiers", &raw); err != nil {
		return nil, fmt.Errorf("decode rate limit tiers %s: %w", path, err)
	}

	var errs []error
	for name, tf := range raw {
		t := Tier{Name: name, Requests: tf.Requests, Window: tf.Window}
		if err := t.validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		tiers[name] = t
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return tiers, nil
}
