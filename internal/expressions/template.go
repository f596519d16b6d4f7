package expressions

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// refPattern matches a single {{...}} reference. The body is everything up
// to the first closing brace, so nested markers are impossible by
// construction.
var refPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Special context tokens resolved once at run start.
const (
	tokenCurrentUser = "{{current_user.id}}"
	tokenNow         = "{{now}}"
)

// ResolveTemplate substitutes every recognized {{...}} reference in template.
//
// Recognized references, dot-separated:
//
//	context.<key>            -> context[key]
//	<stepId>.output.<field>  -> stepOutputs[stepId][field]
//
// Unrecognized or malformed references are left verbatim: partially-authored
// workflows must not explode at template time, and the compatibility analyzer
// is responsible for catching unresolvable references before execution.
// Substituted values are not re-scanned, so there is no recursion. Scalars
// are stringified; maps and slices are serialized as compact JSON.
func ResolveTemplate(template string, context map[string]any, stepOutputs map[string]map[string]any) string {
	return refPattern.ReplaceAllStringFunc(template, func(match string) string {
		ref := strings.TrimSpace(match[2 : len(match)-2])
		parts := strings.Split(ref, ".")

		var val any
		switch {
		case parts[0] == "context" && len(parts) >= 2:
			val = context[parts[1]]
		case len(parts) >= 3 && parts[1] == "output":
			val = stepOutputs[parts[0]][parts[2]]
		default:
			return match
		}

		return Stringify(val)
	})
}

// ResolveContext materializes a workflow's context template at run start.
// Two special tokens are recognized as whole values:
//
//	{{current_user.id}} -> the user ID that triggered the run
//	{{now}}             -> RFC 3339 UTC timestamp
//
// Every other value is a literal string.
func ResolveContext(contextTemplate map[string]string, triggeredBy string) map[string]any {
	now := time.Now().UTC().Format(time.RFC3339)
	resolved := make(map[string]any, len(contextTemplate))
	for key, val := range contextTemplate {
		switch val {
		case tokenCurrentUser:
			resolved[key] = triggeredBy
		case tokenNow:
			resolved[key] = now
		default:
			resolved[key] = val
		}
	}
	return resolved
}

// Stringify renders a resolved value for embedding into a template string.
// Composite values become compact JSON; nil becomes the empty string so a
// missing reference reads as absent rather than "<nil>".
func Stringify(val any) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	case float64:
		return formatFloat(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// formatFloat renders a float without a trailing ".0" for whole numbers,
// matching how step outputs decoded from JSON round-trip into prompts.
func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%v", f)
}
