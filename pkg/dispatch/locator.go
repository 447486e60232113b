package dispatch

import (
	"fmt"
	"strings"
)

// BuildLocator renders the resource locator executors use to address a
// backend object. Composite keys produce name='value' pairs joined with
// commas in declared key order; a single key produces the bare value. A
// declared key missing from args is a contract violation and is reported
// before any downstream call is made.
func BuildLocator(keys []string, args map[string]any) (string, error) {
	if len(keys) == 0 {
		return "", fmt.Errorf("no key properties declared")
	}

	values := make([]string, 0, len(keys))
	for _, key := range keys {
		v, ok := args[key]
		if !ok || v == nil {
			return "", fmt.Errorf("missing key property %q", key)
		}
		values = append(values, fmt.Sprintf("%v", v))
	}

	if len(keys) == 1 {
		return values[0], nil
	}

	pairs := make([]string, len(keys))
	for i, key := range keys {
		pairs[i] = fmt.Sprintf("%s='%s'", key, values[i])
	}
	return strings.Join(pairs, ","), nil
}
