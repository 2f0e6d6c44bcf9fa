package schemas

// Wire names of the fixed tool catalog. The set is closed: the oracle is
// never offered anything else, and the dispatcher rejects anything else.
const (
	ToolNavigate         = "navigate"
	ToolOpenNewTab       = "open_new_tab"
	ToolSwitchTab        = "switch_tab"
	ToolClickElement     = "click_element"
	ToolTypeText         = "type_text"
	ToolSelectOption     = "select_option"
	ToolSetCheckbox      = "set_checkbox"
	ToolScroll           = "scroll"
	ToolWait             = "wait"
	ToolTaskDone         = "task_done"
	ToolRequestUserInput = "request_user_input"
)

// ParamType is the JSON-schema primitive type of a tool parameter.
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamInteger ParamType = "integer"
	ParamBoolean ParamType = "boolean"
)

// ParamSpec declares one argument of a tool: its wire name, type, whether the
// oracle must supply it, and optionally a closed value set or integer bounds.
type ParamSpec struct {
	Name        string    `json:"name"`
	Type        ParamType `json:"type"`
	Description string    `json:"description"`
	Required    bool      `json:"required"`
	Enum        []string  `json:"enum,omitempty"`
	Minimum     *int      `json:"minimum,omitempty"`
	Maximum     *int      `json:"maximum,omitempty"`
}

// ToolSpec declares one tool of the fixed catalog presented to the oracle.
type ToolSpec struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Params      []ParamSpec `json:"params"`
}

// Param returns the named parameter spec, if declared.
func (t ToolSpec) Param(name string) (ParamSpec, bool) {
	for _, p := range t.Params {
		if p.Name == name {
			return p, true
		}
	}
	return ParamSpec{}, false
}
