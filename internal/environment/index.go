package environment

import (
	"fmt"
	"strconv"

	"k8s.io/client-go/tools/cache"

	"github.com/anvil-platform/wiring/internal/resource"
)

const (
	indexCacheKey  = "cacheKey"
	indexNamespace = "namespace"
	indexType      = "type"
)

// CacheKey buckets capabilities by namespace and namespace-attribute value.
type CacheKey struct {
	Namespace string
	Value     string
}

func (k CacheKey) String() string {
	return k.Namespace + "|" + k.Value
}

// CapabilityKey returns the bucket c is indexed under.
func CapabilityKey(c *resource.Capability) CacheKey {
	v, _ := c.Attribute(c.Namespace())
	return CacheKey{Namespace: c.Namespace(), Value: stringify(v)}
}

// RequirementKey returns the bucket req is looked up in, and false when the
// requirement carries no namespace attribute to look up.
func RequirementKey(req *resource.Requirement) (CacheKey, bool) {
	v, ok := req.Attribute(req.Namespace())
	if !ok {
		return CacheKey{}, false
	}
	return CacheKey{Namespace: req.Namespace(), Value: stringify(v)}, true
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}

func newCapabilityIndex() cache.Indexer {
	return cache.NewIndexer(capabilityStoreKey, cache.Indexers{
		indexCacheKey: func(obj interface{}) ([]string, error) {
			c, err := asCapability(obj)
			if err != nil {
				return nil, err
			}
			return []string{CapabilityKey(c).String()}, nil
		},
		indexNamespace: func(obj interface{}) ([]string, error) {
			c, err := asCapability(obj)
			if err != nil {
				return nil, err
			}
			return []string{c.Namespace()}, nil
		},
		indexType: func(obj interface{}) ([]string, error) {
			c, err := asCapability(obj)
			if err != nil {
				return nil, err
			}
			if c.Kind() != resource.KindIdentity {
				return nil, nil
			}
			typ, _ := c.Attribute(resource.AttrType)
			return []string{stringify(typ)}, nil
		},
	})
}

func capabilityStoreKey(obj interface{}) (string, error) {
	c, err := asCapability(obj)
	if err != nil {
		return "", err
	}
	if c.Resource() == nil {
		return "", fmt.Errorf("environment: capability %s has no resource", c)
	}
	return c.Resource().ID() + "/" + strconv.Itoa(c.Ordinal()), nil
}

func asCapability(obj interface{}) (*resource.Capability, error) {
	c, ok := obj.(*resource.Capability)
	if !ok {
		return nil, fmt.Errorf("environment: unexpected index object %T", obj)
	}
	return c, nil
}

func capabilities(objs []interface{}) []*resource.Capability {
	out := make([]*resource.Capability, 0, len(objs))
	for _, obj := range objs {
		if c, ok := obj.(*resource.Capability); ok {
			out = append(out, c)
		}
	}
	return out
}
