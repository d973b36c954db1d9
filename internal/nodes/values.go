package nodes

import (
	"strings"

	"github.com/soochol/flowchat/internal/flowchat"
	"github.com/soochol/flowchat/internal/xjson"
)

// Input port keys shared by several handlers.
const (
	inputModel        = "model"
	inputSystemPrompt = "systemPrompt"
	inputQuotePrompt  = "quotePrompt"
	inputTemperature  = "temperature"
	inputMaxTokens    = "maxToken"
	inputRespond      = "isResponseAnswerText"
	inputDatasets     = "datasets"
	inputLimit        = "limit"
	inputSimilarity   = "similarity"
	inputCondition    = "condition"
	inputValue        = "input"
	inputText         = "text"
	inputTool         = "tool"
	inputArgs         = "args"
	inputPluginID     = "pluginId"
	inputDescription  = "description"
	inputOptions      = "options"
	inputFields       = "fields"
	inputUpdates      = "updates"
)

// Output port keys not shared with the domain package.
const (
	portRawResponse = "rawResponse"
)

// convert coerces a port value into T. Values restored from persisted
// interactive state arrive as generic JSON and go through a round trip.
func convert[T any](v any) (T, bool) {
	var zero T
	if v == nil {
		return zero, false
	}
	if t, ok := v.(T); ok {
		return t, true
	}
	data, err := xjson.Marshal(v)
	if err != nil {
		return zero, false
	}
	var out T
	if err := xjson.Unmarshal(data, &out); err != nil {
		return zero, false
	}
	return out, true
}

// stringList accepts a []string, a []any of strings or a comma separated
// string.
func stringList(v any) []string {
	switch val := v.(type) {
	case []string:
		return val
	case []any:
		out := make([]string, 0, len(val))
		for _, x := range val {
			if s, ok := x.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		var out []string
		for _, s := range strings.Split(val, ",") {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// isEmpty reports whether a port value carries nothing.
func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case []flowchat.Quote:
		return len(val) == 0
	case []flowchat.ChatItem:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}

// isTruthy converts a value to a boolean.
func isTruthy(v any) bool {
	if v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case string:
		return val != "" && val != "false"
	case int:
		return val != 0
	case int64:
		return val != 0
	case float64:
		return val != 0
	default:
		return !isEmpty(v)
	}
}

func displayName(n *flowchat.Node) string {
	if n.Name != "" {
		return n.Name
	}
	return n.ID
}
