package registry

import "github.com/rotisserie/eris"

// stringArg extracts a required string argument.
func stringArg(args map[string]any, key string) (string, error) {
	v, ok := args[key]
	if !ok {
		return "", eris.Errorf("registry: missing required arg %q", key)
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", eris.Errorf("registry: arg %q must be a non-empty string", key)
	}
	return s, nil
}

// optionalString extracts an optional string argument with a default.
func optionalString(args map[string]any, key, def string) string {
	if s, ok := args[key].(string); ok && s != "" {
		return s
	}
	return def
}

// optionalInt extracts an optional integer argument. YAML and JSON decoding
// may produce either int or float64.
func optionalInt(args map[string]any, key string, def int) int {
	switch n := args[key].(type) {
	case int:
		return n
	case float64:
		return int(n)
	default:
		return def
	}
}
