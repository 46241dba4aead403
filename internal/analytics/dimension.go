package analytics

import (
	"fmt"
	"sort"
	"strings"
)

// Filters selects the events that contribute to a rollup. Each dimension is
// optional; values within a dimension are ORed together and dimensions are
// ANDed across.
type Filters struct {
	Users     []string
	Models    []string
	Providers []string
	APIKeys   []string
}

// IsZero reports whether no dimension is constrained.
func (f Filters) IsZero() bool {
	return len(f.Users) == 0 && len(f.Models) == 0 && len(f.Providers) == 0 && len(f.APIKeys) == 0
}

// Normalize trims, deduplicates, and sorts every dimension so equivalent
// filter sets compare equal. It rejects values containing the signature
// separator characters.
func (f Filters) Normalize() (Filters, error) {
	out := Filters{}
	var err error
	if out.Users, err = normalizeDimension("user", f.Users); err != nil {
		return Filters{}, err
	}
	if out.Models, err = normalizeDimension("model", f.Models); err != nil {
		return Filters{}, err
	}
	if out.Providers, err = normalizeDimension("provider", f.Providers); err != nil {
		return Filters{}, err
	}
	if out.APIKeys, err = normalizeDimension("api_key", f.APIKeys); err != nil {
		return Filters{}, err
	}
	return out, nil
}

// Signature returns the canonical cache-key encoding of the filter set. The
// encoding is order-independent: any two expressions of the same filters map
// to the same string. An unconstrained filter set encodes as "all".
func (f Filters) Signature() string {
	norm, err := f.Normalize()
	if err != nil {
		// Callers validate before caching; fall back to a raw encoding so a
		// bad value can never collide with "all".
		norm = f
	}
	if norm.IsZero() {
		return "all"
	}

	var parts []string
	appendDim := func(name string, values []string) {
		if len(values) > 0 {
			parts = append(parts, name+"="+strings.Join(values, ","))
		}
	}
	appendDim("api_key", norm.APIKeys)
	appendDim("model", norm.Models)
	appendDim("provider", norm.Providers)
	appendDim("user", norm.Users)
	return strings.Join(parts, ";")
}

// Matches reports whether the event satisfies every constrained dimension.
func (f Filters) Matches(ev UsageEvent) bool {
	if !matchesDimension(f.Users, ev.UserID) {
		return false
	}
	if !matchesDimension(f.Models, ev.Model) {
		return false
	}
	if !matchesDimension(f.Providers, ev.Provider) {
		return false
	}
	if !matchesDimension(f.APIKeys, ev.APIKeyID) {
		return false
	}
	return true
}

func matchesDimension(values []string, candidate string) bool {
	if len(values) == 0 {
		return true
	}
	for _, v := range values {
		if v == candidate {
			return true
		}
	}
	return false
}

func normalizeDimension(name string, values []string) ([]string, error) {
	if len(values) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if strings.ContainsAny(v, ",;=") {
			return nil, fmt.Errorf("%w: %s value %q", ErrInvalidFilter, name, v)
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
