package engine

import (
	"regexp"
	"sort"
)

// ${NAME} or ${NAME:-default}; bash identifier syntax for names.
var varPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// expandVars substitutes ${NAME} references against env. Unknown
// names keep their literal text unless a ${NAME:-default} form
// supplies a fallback.
func expandVars(input string, env map[string]string) string {
	return varPattern.ReplaceAllStringFunc(input, func(ref string) string {
		groups := varPattern.FindStringSubmatch(ref)
		name := groups[1]
		if value, ok := env[name]; ok {
			return value
		}
		if groups[2] != "" {
			return groups[3]
		}
		return ref
	})
}

// envSlice renders a resolved environment in the KEY=value form
// process runners expect, sorted for determinism.
func envSlice(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
