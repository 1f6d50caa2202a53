package engine

import (
	"fmt"
	"sort"
)

// RenameMapping is source name -> output name -> original variable name ->
// effective variable name. Missing entries mean identity.
type RenameMapping map[string]map[string]map[string]string

// ConversionMapping is source name -> output name -> original variable name
// -> target type. Missing entries mean pass-through.
type ConversionMapping map[string]map[string]map[string]TypeTag

// Lookup returns the explicit effective name for (source, output, variable).
func (m RenameMapping) Lookup(source, output, variable string) (string, bool) {
	name, ok := m[source][output][variable]
	return name, ok
}

// Lookup returns the explicit target type for (source, output, variable).
func (m ConversionMapping) Lookup(source, output, variable string) TypeTag {
	return m[source][output][variable]
}

// ParseRenameMapping builds a RenameMapping from an untyped tree, such as
// the result of decoding YAML into an `any`. A nil tree is an empty mapping.
//
// The tree must be exactly three levels of string-keyed mappings with
// string leaves. Anything else fails with a ConfigurationError naming the
// offending key path below root (e.g. "rename.Sou1.OutA").
func ParseRenameMapping(root string, raw any) (RenameMapping, error) {
	out := RenameMapping{}
	err := walkMapping(root, raw, func(src, dst, variable, path string, leaf any) error {
		name, ok := leaf.(string)
		if !ok {
			return configErrorf(path, "expected a variable name, got %T", leaf)
		}
		if out[src] == nil {
			out[src] = map[string]map[string]string{}
		}
		if out[src][dst] == nil {
			out[src][dst] = map[string]string{}
		}
		out[src][dst][variable] = name
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// ParseConversionMapping builds a ConversionMapping from an untyped tree.
// Leaves must be type names accepted by ParseTypeTag.
func ParseConversionMapping(root string, raw any) (ConversionMapping, error) {
	out := ConversionMapping{}
	err := walkMapping(root, raw, func(src, dst, variable, path string, leaf any) error {
		name, ok := leaf.(string)
		if !ok && leaf != nil {
			return configErrorf(path, "expected a type name, got %T", leaf)
		}
		tag, err := ParseTypeTag(name)
		if err != nil {
			return configErrorf(path, "%v", err)
		}
		if out[src] == nil {
			out[src] = map[string]map[string]TypeTag{}
		}
		if out[src][dst] == nil {
			out[src][dst] = map[string]TypeTag{}
		}
		out[src][dst][variable] = tag
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type leafFunc func(source, output, variable, path string, leaf any) error

// walkMapping visits every leaf of a three-level mapping in sorted key
// order, so the first reported error is stable.
func walkMapping(root string, raw any, visit leafFunc) error {
	if raw == nil {
		return nil
	}
	sources, err := asMapping(root, raw, "sources")
	if err != nil {
		return err
	}
	for _, src := range sortedKeys(sources) {
		srcPath := joinPath(root, src)
		outputs, err := asMapping(srcPath, sources[src], "outputs")
		if err != nil {
			return err
		}
		for _, dst := range sortedKeys(outputs) {
			dstPath := joinPath(srcPath, dst)
			vars, err := asMapping(dstPath, outputs[dst], "variables")
			if err != nil {
				return err
			}
			for _, variable := range sortedKeys(vars) {
				leaf := vars[variable]
				leafPath := joinPath(dstPath, variable)
				if _, nested := leaf.(map[string]any); nested {
					return configErrorf(leafPath, "mapping nested too deeply")
				}
				if err := visit(src, dst, variable, leafPath, leaf); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

// asMapping accepts the map shapes produced by yaml.v3 and encoding/json.
// Non-string keys are rejected.
func asMapping(path string, v any, what string) (map[string]any, error) {
	switch m := v.(type) {
	case map[string]any:
		return m, nil
	case map[string]string:
		out := make(map[string]any, len(m))
		for k, s := range m {
			out[k] = s
		}
		return out, nil
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			key, ok := k.(string)
			if !ok {
				return nil, configErrorf(joinPath(path, fmt.Sprint(k)), "non-string key of type %T", k)
			}
			out[key] = val
		}
		return out, nil
	case nil:
		return map[string]any{}, nil
	default:
		return nil, configErrorf(path, "expected mapping of %s, got %T", what, v)
	}
}

func joinPath(parent, key string) string {
	if parent == "" {
		return key
	}
	return parent + "." + key
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
