package internal

import (
	"sort"

	"github.com/lychee-technology/duplex"
)

// PolicyRegistry classifies entity names as cache-only or mirrored. It is
// built once at startup and never mutated afterwards.
type PolicyRegistry struct {
	policies  map[string]duplex.EntityPolicy
	cacheOnly *Set[string]
}

// NewPolicyRegistry builds a registry from the given policies. When a name is
// declared twice the last declaration wins, so a name sits in one bucket only.
func NewPolicyRegistry(policies []duplex.EntityPolicy) *PolicyRegistry {
	r := &PolicyRegistry{
		policies:  make(map[string]duplex.EntityPolicy, len(policies)),
		cacheOnly: NewSet[string](),
	}
	for _, p := range policies {
		r.policies[p.Name] = p
		if p.CacheOnly {
			r.cacheOnly.Add(p.Name)
		} else {
			r.cacheOnly.Remove(p.Name)
		}
	}
	return r
}

// IsCacheOnly reports whether name has no Primary fallback. Unknown names are
// mirrored.
func (r *PolicyRegistry) IsCacheOnly(name string) bool {
	if r == nil {
		return false
	}
	return r.cacheOnly.Contains(name)
}

// Policy returns the declared policy for name, or a mirrored default.
func (r *PolicyRegistry) Policy(name string) duplex.EntityPolicy {
	if r != nil {
		if p, ok := r.policies[name]; ok {
			return p
		}
	}
	return duplex.EntityPolicy{Name: name}
}

// Names returns every declared entity name in lexical order.
func (r *PolicyRegistry) Names() []string {
	if r == nil {
		return nil
	}
	names := MapKeys(r.policies)
	sort.Strings(names)
	return names
}
