package nodes

import (
	"context"
	"fmt"
	"strings"

	"github.com/soochol/flowchat/internal/engine"
	"github.com/soochol/flowchat/internal/flowchat"
	"github.com/soochol/flowchat/internal/xjson"
)

// Interactive prompt types.
const (
	promptUserSelect = "userSelect"
	promptUserInput  = "userInput"
)

// SelectOption is one choice of a userSelect node. Key names the output
// port fired when it is chosen.
type SelectOption struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// FormField is one field of a formInput node.
type FormField struct {
	Key      string `json:"key"`
	Label    string `json:"label,omitempty"`
	Type     string `json:"type,omitempty"`
	Required bool   `json:"required,omitempty"`
}

// handleUserSelect pauses with a list of options. When resumed it fires
// the port of the chosen option and outputs the choice; an unknown reply
// asks again.
func handleUserSelect(_ context.Context, call *engine.Call) (*engine.Result, error) {
	options := selectOptions(call.Input(inputOptions))
	if len(options) == 0 {
		return nil, fmt.Errorf("userSelect needs at least one option")
	}
	prompt := map[string]any{
		"type":        promptUserSelect,
		"description": call.String(inputDescription),
		"options":     options,
	}
	if call.Resume == nil {
		return &engine.Result{Pause: &engine.Pause{Prompt: prompt}}, nil
	}

	reply := strings.TrimSpace(call.Resume.Reply)
	for _, opt := range options {
		if reply != opt.Value && reply != opt.Key {
			continue
		}
		return &engine.Result{
			Outputs: map[string]any{
				flowchat.PortSelectedOption: opt.Value,
				opt.Key:                     opt.Value,
			},
			Response: &flowchat.NodeResponse{TextOutput: opt.Value},
		}, nil
	}
	return &engine.Result{Pause: &engine.Pause{Prompt: prompt}}, nil
}

// handleFormInput pauses with form fields. The reply is a JSON object; it
// is output whole on formInputResult and field by field on the field
// keys. A reply that is not an object or misses a required field asks
// again.
func handleFormInput(_ context.Context, call *engine.Call) (*engine.Result, error) {
	fields, _ := convert[[]FormField](call.Input(inputFields))
	if len(fields) == 0 {
		return nil, fmt.Errorf("formInput needs at least one field")
	}
	prompt := map[string]any{
		"type":        promptUserInput,
		"description": call.String(inputDescription),
		"fields":      fields,
	}
	if call.Resume == nil {
		return &engine.Result{Pause: &engine.Pause{Prompt: prompt}}, nil
	}

	var values map[string]any
	if err := xjson.Unmarshal([]byte(call.Resume.Reply), &values); err != nil || values == nil {
		return &engine.Result{Pause: &engine.Pause{Prompt: prompt}}, nil
	}
	out := map[string]any{flowchat.PortFormResult: values}
	for _, f := range fields {
		v, ok := values[f.Key]
		if f.Required && (!ok || isEmpty(v)) {
			return &engine.Result{Pause: &engine.Pause{Prompt: prompt}}, nil
		}
		if ok {
			out[f.Key] = v
		}
	}
	return &engine.Result{
		Outputs:  out,
		Response: &flowchat.NodeResponse{TextOutput: call.Resume.Reply},
	}, nil
}

// selectOptions accepts strings or {key, value} objects. A missing key
// defaults to the value.
func selectOptions(v any) []SelectOption {
	var out []SelectOption
	if list, ok := v.([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, SelectOption{Key: s, Value: s})
				continue
			}
			if opt, ok := convert[SelectOption](item); ok && opt.Value != "" {
				out = append(out, opt)
			}
		}
	} else if opts, ok := convert[[]SelectOption](v); ok {
		out = opts
	} else {
		for _, s := range stringList(v) {
			out = append(out, SelectOption{Key: s, Value: s})
		}
	}
	for i := range out {
		if out[i].Key == "" {
			out[i].Key = out[i].Value
		}
	}
	return out
}
