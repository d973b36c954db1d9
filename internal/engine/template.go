package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/soochol/flowchat/internal/xjson"
)

// templatePattern matches {{key}} or {{node.port}} placeholders.
var templatePattern = regexp.MustCompile(`\{\{\s*([\w-]+(?:\.[\w-]+)*)\s*\}\}`)

// resolveTemplate substitutes node outputs (node.port) and variables
// (name). Unknown placeholders are left untouched.
func resolveTemplate(tmpl string, outputs map[string]map[string]any, vars map[string]any) string {
	if !strings.Contains(tmpl, "{{") {
		return tmpl
	}
	return templatePattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		key := templatePattern.FindStringSubmatch(match)[1]
		if node, port, ok := strings.Cut(key, "."); ok {
			if out, found := outputs[node]; found {
				if val, found := out[port]; found {
					return Stringify(val)
				}
			}
		}
		if val, ok := vars[key]; ok && val != nil {
			return Stringify(val)
		}
		return match
	})
}

// Stringify renders a port value as prompt text.
func Stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case fmt.Stringer:
		return val.String()
	case bool, int, int64, float64:
		return fmt.Sprintf("%v", val)
	default:
		data, err := xjson.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(data)
	}
}
