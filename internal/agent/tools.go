// File: internal/agent/tools.go
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/browser"
	"github.com/xkilldash9x/webpilot/internal/interact"
)

const (
	minWaitSeconds = 1
	maxWaitSeconds = 10
)

func intPtr(v int) *int { return &v }

// Catalog returns the fixed tool contract presented to the oracle. The set
// and the parameter shapes never vary between runs.
func Catalog() []schemas.ToolSpec {
	return []schemas.ToolSpec{
		{
			Name:        schemas.ToolNavigate,
			Description: "Load a URL in the active tab.",
			Params: []schemas.ParamSpec{
				{Name: "url", Type: schemas.ParamString, Required: true,
					Description: "Absolute URL to open. A missing scheme defaults to https."},
			},
		},
		{
			Name:        schemas.ToolOpenNewTab,
			Description: "Open a new browser tab and switch to it.",
			Params: []schemas.ParamSpec{
				{Name: "url", Type: schemas.ParamString,
					Description: "URL to open in the new tab. Omit for a blank tab."},
			},
		},
		{
			Name:        schemas.ToolSwitchTab,
			Description: "Switch to another open tab.",
			Params: []schemas.ParamSpec{
				{Name: "tab_index", Type: schemas.ParamInteger, Required: true,
					Description: "Tab index from the page state's tab list."},
			},
		},
		{
			Name:        schemas.ToolClickElement,
			Description: "Click an interactive element.",
			Params: []schemas.ParamSpec{
				{Name: "element_id", Type: schemas.ParamInteger, Required: true,
					Description: "Element id from the current page state."},
			},
		},
		{
			Name:        schemas.ToolTypeText,
			Description: "Type text into an input, replacing its current value.",
			Params: []schemas.ParamSpec{
				{Name: "text", Type: schemas.ParamString, Required: true,
					Description: "The text to enter."},
				{Name: "element_id", Type: schemas.ParamInteger,
					Description: "Target input id. Omit to type into the focused element."},
			},
		},
		{
			Name:        schemas.ToolSelectOption,
			Description: "Choose an option of a dropdown element.",
			Params: []schemas.ParamSpec{
				{Name: "element_id", Type: schemas.ParamInteger, Required: true,
					Description: "Element id of the dropdown."},
				{Name: "value_or_label", Type: schemas.ParamString, Required: true,
					Description: "The option's value, or its visible label."},
			},
		},
		{
			Name:        schemas.ToolSetCheckbox,
			Description: "Check or uncheck a checkbox or radio button.",
			Params: []schemas.ParamSpec{
				{Name: "element_id", Type: schemas.ParamInteger, Required: true,
					Description: "Element id of the checkbox."},
				{Name: "checked", Type: schemas.ParamBoolean, Required: true,
					Description: "The desired state."},
			},
		},
		{
			Name:        schemas.ToolScroll,
			Description: "Scroll the page by most of one viewport.",
			Params: []schemas.ParamSpec{
				{Name: "direction", Type: schemas.ParamString, Required: true,
					Enum:        []string{string(schemas.ScrollUp), string(schemas.ScrollDown)},
					Description: "Scroll direction."},
			},
		},
		{
			Name:        schemas.ToolWait,
			Description: "Wait for slow content to appear before inspecting again.",
			Params: []schemas.ParamSpec{
				{Name: "seconds", Type: schemas.ParamInteger, Required: true,
					Minimum: intPtr(minWaitSeconds), Maximum: intPtr(maxWaitSeconds),
					Description: "Seconds to wait."},
			},
		},
		{
			Name:        schemas.ToolTaskDone,
			Description: "Finish the run and report the outcome.",
			Params: []schemas.ParamSpec{
				{Name: "result", Type: schemas.ParamString, Required: true,
					Description: "Final answer or outcome summary for the user."},
			},
		},
		{
			Name:        schemas.ToolRequestUserInput,
			Description: "Pause the run and ask the user for information you cannot know.",
			Params: []schemas.ParamSpec{
				{Name: "question", Type: schemas.ParamString, Required: true,
					Description: "The question for the user."},
			},
		},
	}
}

// -- Typed tool arguments (closed union) --

type navigateArgs struct {
	URL string `json:"url"`
}

type openNewTabArgs struct {
	URL string `json:"url"`
}

type switchTabArgs struct {
	// Pointer distinguishes a missing tab_index from a legitimate index 0.
	TabIndex *int `json:"tab_index"`
}

type clickArgs struct {
	ElementID int `json:"element_id"`
}

type typeTextArgs struct {
	Text      string `json:"text"`
	ElementID int    `json:"element_id"`
}

type selectOptionArgs struct {
	ElementID    int    `json:"element_id"`
	ValueOrLabel string `json:"value_or_label"`
}

type setCheckboxArgs struct {
	ElementID int   `json:"element_id"`
	Checked   *bool `json:"checked"`
}

type scrollArgs struct {
	Direction string `json:"direction"`
}

type waitArgs struct {
	Seconds int `json:"seconds"`
}

type taskDoneArgs struct {
	Result string `json:"result"`
}

type requestUserInputArgs struct {
	Question string `json:"question"`
}

// decodeArgs parses raw tool arguments. Malformed payloads degrade to the
// zero value so validation can produce a structured failure instead of the
// cycle aborting.
func decodeArgs[T any](raw []byte, logger *zap.Logger) T {
	var v T
	if len(raw) == 0 || string(raw) == "null" {
		return v
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		logger.Debug("Malformed tool arguments, degrading to an empty set.",
			zap.Error(err), zap.ByteString("raw", raw))
		var zero T
		return zero
	}
	return v
}

// failf builds a failed result with a structured error code prefix.
func failf(code ErrorCode, format string, args ...any) *schemas.ActionResult {
	return schemas.Fail(fmt.Sprintf("[%s] %s", code, fmt.Sprintf(format, args...)))
}

// failErr classifies err, formats it and appends the remediation hint for
// the code so the oracle knows how to get unstuck.
func failErr(code ErrorCode, err error, context string) *schemas.ActionResult {
	msg := fmt.Sprintf("[%s] %s: %v", code, context, err)
	if hint := remediation(code); hint != "" {
		msg += ". " + hint
	}
	return schemas.Fail(msg)
}

func remediation(code ErrorCode) string {
	switch code {
	case ErrCodeElementNotFound:
		return "Ids are only valid for the current page state"
	case ErrCodeResolutionFailed:
		return "The page may have changed; scroll or act on an id from the latest state"
	case ErrCodeElementDisabled:
		return "Enable it first or pick another element"
	case ErrCodeTransientEnvironment:
		return "The page was reloading; check the new state and retry if still relevant"
	}
	return ""
}

// classify maps an execution error to its structured code, falling back to
// the action specific default.
func classify(err error, fallback ErrorCode) ErrorCode {
	switch {
	case errors.Is(err, interact.ErrElementDisabled):
		return ErrCodeElementDisabled
	case errors.Is(err, interact.ErrNoMatch):
		return ErrCodeResolutionFailed
	case browser.IsContextDestroyed(err):
		return ErrCodeTransientEnvironment
	case errors.Is(err, context.DeadlineExceeded):
		return ErrCodeTimeoutError
	}
	return fallback
}

// execute dispatches one decided call. It always produces a result, never
// an error: everything that can go wrong here is something the oracle
// should hear about and route around.
func (r *Runner) execute(ctx context.Context, call *schemas.ToolCall) *schemas.ActionResult {
	switch call.Name {
	case schemas.ToolNavigate:
		return r.execNavigate(ctx, decodeArgs[navigateArgs](call.Args, r.logger))
	case schemas.ToolOpenNewTab:
		return r.execOpenNewTab(ctx, decodeArgs[openNewTabArgs](call.Args, r.logger))
	case schemas.ToolSwitchTab:
		return r.execSwitchTab(ctx, decodeArgs[switchTabArgs](call.Args, r.logger))
	case schemas.ToolClickElement:
		return r.execClick(ctx, decodeArgs[clickArgs](call.Args, r.logger))
	case schemas.ToolTypeText:
		return r.execType(ctx, decodeArgs[typeTextArgs](call.Args, r.logger))
	case schemas.ToolSelectOption:
		return r.execSelect(ctx, decodeArgs[selectOptionArgs](call.Args, r.logger))
	case schemas.ToolSetCheckbox:
		return r.execCheckbox(ctx, decodeArgs[setCheckboxArgs](call.Args, r.logger))
	case schemas.ToolScroll:
		return r.execScroll(ctx, decodeArgs[scrollArgs](call.Args, r.logger))
	case schemas.ToolWait:
		return r.execWait(ctx, decodeArgs[waitArgs](call.Args, r.logger))
	case schemas.ToolTaskDone:
		args := decodeArgs[taskDoneArgs](call.Args, r.logger)
		if strings.TrimSpace(args.Result) == "" {
			return failf(ErrCodeInvalidParameters, "task_done requires a result that answers the task")
		}
		return &schemas.ActionResult{Success: true, Stop: true, Message: args.Result}
	case schemas.ToolRequestUserInput:
		args := decodeArgs[requestUserInputArgs](call.Args, r.logger)
		if strings.TrimSpace(args.Question) == "" {
			return failf(ErrCodeInvalidParameters, "request_user_input requires a question")
		}
		return &schemas.ActionResult{
			Success:      true,
			Stop:         true,
			Message:      "Waiting for user input.",
			UserQuestion: args.Question,
		}
	}
	return failf(ErrCodeInvalidParameters, "unknown tool %q", call.Name)
}

func (r *Runner) execNavigate(ctx context.Context, args navigateArgs) *schemas.ActionResult {
	url := normalizeURL(args.URL)
	if url == "" {
		return failf(ErrCodeInvalidParameters, "navigate requires a url")
	}
	if err := r.sess.Navigate(ctx, url); err != nil {
		return failErr(classify(err, ErrCodeNavigationError), err, fmt.Sprintf("could not load %s", url))
	}
	return schemas.OK("Navigated to " + url + ".")
}

func (r *Runner) execOpenNewTab(ctx context.Context, args openNewTabArgs) *schemas.ActionResult {
	url := normalizeURL(args.URL)
	if err := r.sess.NewTab(ctx, url); err != nil {
		return failErr(classify(err, ErrCodeNavigationError), err, "could not open a new tab")
	}
	if url == "" {
		return schemas.OK("Opened a blank tab and switched to it.")
	}
	return schemas.OK("Opened a new tab at " + url + " and switched to it.")
}

func (r *Runner) execSwitchTab(ctx context.Context, args switchTabArgs) *schemas.ActionResult {
	if args.TabIndex == nil {
		return failf(ErrCodeInvalidParameters, "switch_tab requires tab_index")
	}
	if err := r.sess.SwitchTab(ctx, *args.TabIndex); err != nil {
		return failf(ErrCodeInvalidParameters, "could not switch to tab %d: %v", *args.TabIndex, err)
	}
	return schemas.OK(fmt.Sprintf("Switched to tab %d.", *args.TabIndex))
}

func (r *Runner) execClick(ctx context.Context, args clickArgs) *schemas.ActionResult {
	el, fail := r.requireElement(args.ElementID, schemas.ToolClickElement)
	if fail != nil {
		return fail
	}
	if err := r.executor.Click(ctx, r.sess, el); err != nil {
		return failErr(classify(err, ErrCodeTransientEnvironment), err,
			fmt.Sprintf("click on element %d failed", el.ID))
	}
	return schemas.OK(fmt.Sprintf("Clicked element %d (%s).", el.ID, describeElement(el)))
}

func (r *Runner) execType(ctx context.Context, args typeTextArgs) *schemas.ActionResult {
	if args.ElementID == 0 {
		if strings.TrimSpace(args.Text) == "" {
			return failf(ErrCodeInvalidParameters, "type_text requires text")
		}
		if err := r.executor.TypeActive(ctx, r.sess, args.Text); err != nil {
			return failf(ErrCodeInvalidParameters,
				"typing without element_id needs a focused input: %v", err)
		}
		return schemas.OK("Typed into the focused element.")
	}

	el, fail := r.requireElement(args.ElementID, schemas.ToolTypeText)
	if fail != nil {
		return fail
	}
	if err := r.executor.Type(ctx, r.sess, el, args.Text); err != nil {
		return failErr(classify(err, ErrCodeTransientEnvironment), err,
			fmt.Sprintf("typing into element %d failed", el.ID))
	}
	return schemas.OK(fmt.Sprintf("Typed %q into element %d.", schemas.Truncate(args.Text, 60), el.ID))
}

func (r *Runner) execSelect(ctx context.Context, args selectOptionArgs) *schemas.ActionResult {
	if strings.TrimSpace(args.ValueOrLabel) == "" {
		return failf(ErrCodeInvalidParameters, "select_option requires value_or_label")
	}
	el, fail := r.requireElement(args.ElementID, schemas.ToolSelectOption)
	if fail != nil {
		return fail
	}
	if err := r.executor.SelectOption(ctx, r.sess, el, args.ValueOrLabel); err != nil {
		return failErr(classify(err, ErrCodeInvalidParameters), err,
			fmt.Sprintf("selecting %q in element %d failed", args.ValueOrLabel, el.ID))
	}
	return schemas.OK(fmt.Sprintf("Selected %q in element %d.", args.ValueOrLabel, el.ID))
}

func (r *Runner) execCheckbox(ctx context.Context, args setCheckboxArgs) *schemas.ActionResult {
	if args.Checked == nil {
		return failf(ErrCodeInvalidParameters, "set_checkbox requires checked")
	}
	el, fail := r.requireElement(args.ElementID, schemas.ToolSetCheckbox)
	if fail != nil {
		return fail
	}
	if err := r.executor.SetChecked(ctx, r.sess, el, *args.Checked); err != nil {
		return failErr(classify(err, ErrCodeTransientEnvironment), err,
			fmt.Sprintf("setting element %d failed", el.ID))
	}
	state := "unchecked"
	if *args.Checked {
		state = "checked"
	}
	return schemas.OK(fmt.Sprintf("Element %d is now %s.", el.ID, state))
}

func (r *Runner) execScroll(ctx context.Context, args scrollArgs) *schemas.ActionResult {
	dir := schemas.ScrollDirection(args.Direction)
	if dir != schemas.ScrollUp && dir != schemas.ScrollDown {
		return failf(ErrCodeInvalidParameters, "scroll direction must be up or down, got %q", args.Direction)
	}
	if err := r.sess.Scroll(ctx, dir); err != nil {
		return failErr(classify(err, ErrCodeTransientEnvironment), err, "scroll failed")
	}
	return schemas.OK(fmt.Sprintf("Scrolled %s.", dir))
}

func (r *Runner) execWait(ctx context.Context, args waitArgs) *schemas.ActionResult {
	seconds := args.Seconds
	if seconds < minWaitSeconds {
		seconds = minWaitSeconds
	}
	if seconds > maxWaitSeconds {
		seconds = maxWaitSeconds
	}
	select {
	case <-time.After(time.Duration(seconds) * time.Second):
		return schemas.OK(fmt.Sprintf("Waited %d seconds.", seconds))
	case <-ctx.Done():
		return failf(ErrCodeTimeoutError, "wait interrupted: %v", ctx.Err())
	}
}

// requireElement fetches an addressed element from the current snapshot.
func (r *Runner) requireElement(id int, tool string) (*schemas.Element, *schemas.ActionResult) {
	if id <= 0 {
		return nil, failf(ErrCodeInvalidParameters, "%s requires element_id", tool)
	}
	el, ok := r.snap.ElementByID(id)
	if !ok {
		return nil, failErr(ErrCodeElementNotFound,
			fmt.Errorf("no element with id %d", id), "element lookup failed")
	}
	return el, nil
}

func describeElement(el *schemas.Element) string {
	if el.Text != "" {
		return fmt.Sprintf("%s %q", el.Role, schemas.Truncate(el.Text, 40))
	}
	return el.Role
}

// normalizeURL trims the input and defaults a missing scheme to https.
func normalizeURL(raw string) string {
	url := strings.TrimSpace(raw)
	if url == "" {
		return ""
	}
	if !strings.Contains(url, "://") && !strings.HasPrefix(url, "about:") {
		url = "https://" + url
	}
	return url
}
