package manifest

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/anvil-platform/wiring/internal/semver"
)

// ErrInvalidAttribute indicates an attribute value that does not fit its
// declared type.
var ErrInvalidAttribute = errors.New("invalid attribute")

// typedAttributes converts descriptor attributes into resource attribute
// values. A key may carry a type suffix, "key:Type", where Type is String,
// Version, Long or List<String|Version|Long>. Untyped values keep their
// YAML type: integers become Long, booleans and floats become String.
func typedAttributes(in map[string]any) (map[string]any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]any, len(in))
	for rawKey, raw := range in {
		key, typ, _ := strings.Cut(rawKey, ":")
		key, typ = strings.TrimSpace(key), strings.TrimSpace(typ)
		if key == "" {
			return nil, fmt.Errorf("%w: empty key %q", ErrInvalidAttribute, rawKey)
		}
		v, err := convert(typ, raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q: %v", ErrInvalidAttribute, key, err)
		}
		out[key] = v
	}
	return out, nil
}

func convert(typ string, raw any) (any, error) {
	if elem, ok := strings.CutPrefix(typ, "List<"); ok {
		elem, ok = strings.CutSuffix(elem, ">")
		if !ok {
			return nil, fmt.Errorf("malformed type %q", typ)
		}
		return convertList(strings.TrimSpace(elem), raw)
	}
	switch typ {
	case "":
		return untyped(raw)
	case "String":
		return scalarString(raw)
	case "Version":
		s, err := scalarString(raw)
		if err != nil {
			return nil, err
		}
		return semver.ParseVersion(s)
	case "Long":
		return toLong(raw)
	default:
		return nil, fmt.Errorf("unsupported type %q", typ)
	}
}

func convertList(elem string, raw any) (any, error) {
	var items []any
	switch t := raw.(type) {
	case []any:
		items = t
	case string:
		for _, part := range strings.Split(t, ",") {
			items = append(items, strings.TrimSpace(part))
		}
	default:
		items = []any{raw}
	}
	switch elem {
	case "", "String":
		out := make([]string, 0, len(items))
		for _, item := range items {
			s, err := scalarString(item)
			if err != nil {
				return nil, err
			}
			out = append(out, s)
		}
		return out, nil
	case "Version":
		out := make([]semver.Version, 0, len(items))
		for _, item := range items {
			s, err := scalarString(item)
			if err != nil {
				return nil, err
			}
			v, err := semver.ParseVersion(s)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	case "Long":
		out := make([]int64, 0, len(items))
		for _, item := range items {
			n, err := toLong(item)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported list element type %q", elem)
	}
}

func untyped(raw any) (any, error) {
	switch t := raw.(type) {
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case []any:
		return convertList("String", t)
	default:
		return scalarString(raw)
	}
}

func scalarString(raw any) (string, error) {
	switch t := raw.(type) {
	case string:
		return t, nil
	case bool:
		return strconv.FormatBool(t), nil
	case int:
		return strconv.Itoa(t), nil
	case int64:
		return strconv.FormatInt(t, 10), nil
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), nil
	case nil:
		return "", fmt.Errorf("missing value")
	default:
		return "", fmt.Errorf("unsupported value %T", raw)
	}
}

func toLong(raw any) (int64, error) {
	switch t := raw.(type) {
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case string:
		return strconv.ParseInt(strings.TrimSpace(t), 10, 64)
	default:
		return 0, fmt.Errorf("%T is not a Long", raw)
	}
}
