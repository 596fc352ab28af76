package resource

import (
	"fmt"
	"slices"
	"sort"
	"strconv"

	"github.com/anvil-platform/wiring/internal/semver"
)

// Attributes is an insertion-ordered attribute map. Values are string, int64,
// semver.Version, or a slice of one of those.
type Attributes struct {
	keys   []string
	values map[string]any
}

// Set stores value under key, normalizing integer types to int64. Setting an
// existing key keeps its position.
func (a *Attributes) Set(key string, value any) error {
	if key == "" {
		return fmt.Errorf("%w: empty attribute key", ErrInvalidAttribute)
	}
	v, err := normalizeValue(value)
	if err != nil {
		return fmt.Errorf("%w: %q: %v", ErrInvalidAttribute, key, err)
	}
	if a.values == nil {
		a.values = make(map[string]any)
	}
	if _, ok := a.values[key]; !ok {
		a.keys = append(a.keys, key)
	}
	a.values[key] = v
	return nil
}

// Get returns the value stored under key.
func (a Attributes) Get(key string) (any, bool) {
	v, ok := a.values[key]
	return v, ok
}

// Keys returns attribute keys in insertion order.
func (a Attributes) Keys() []string {
	return slices.Clone(a.keys)
}

func (a Attributes) Len() int {
	return len(a.keys)
}

// Map returns a copy of the attributes as a plain map.
func (a Attributes) Map() map[string]any {
	out := make(map[string]any, len(a.values))
	for k, v := range a.values {
		out[k] = v
	}
	return out
}

// setAll copies m into a, in sorted key order, skipping keys already present.
func (a *Attributes) setAll(m map[string]any) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := a.values[k]; ok {
			continue
		}
		if err := a.Set(k, m[k]); err != nil {
			return err
		}
	}
	return nil
}

func normalizeValue(value any) (any, error) {
	switch v := value.(type) {
	case string, int64, semver.Version, []string, []int64, []semver.Version:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case uint32:
		return int64(v), nil
	case []int:
		out := make([]int64, len(v))
		for i, e := range v {
			out[i] = int64(e)
		}
		return out, nil
	case nil:
		return nil, fmt.Errorf("nil value")
	default:
		return nil, fmt.Errorf("unsupported type %T", value)
	}
}

// asVersion coerces an attribute value to a version.
func asVersion(value any) (semver.Version, error) {
	switch v := value.(type) {
	case semver.Version:
		return v, nil
	case string:
		return semver.ParseVersion(v)
	default:
		return semver.Version{}, fmt.Errorf("%T is not a version", value)
	}
}

// valuesEqual compares a requirement-side value against a capability-side
// value, coercing the requirement value to the capability's type.
func valuesEqual(want, have any) bool {
	switch h := have.(type) {
	case string:
		w, ok := want.(string)
		return ok && w == h
	case int64:
		switch w := want.(type) {
		case int64:
			return w == h
		case string:
			n, err := strconv.ParseInt(w, 10, 64)
			return err == nil && n == h
		}
	case semver.Version:
		w, err := asVersion(want)
		return err == nil && semver.Compare(w, h) == 0
	case []string:
		w, ok := want.([]string)
		return ok && slices.Equal(w, h)
	case []int64:
		w, ok := want.([]int64)
		return ok && slices.Equal(w, h)
	case []semver.Version:
		w, ok := want.([]semver.Version)
		return ok && slices.EqualFunc(w, h, func(a, b semver.Version) bool {
			return semver.Compare(a, b) == 0
		})
	}
	return false
}
