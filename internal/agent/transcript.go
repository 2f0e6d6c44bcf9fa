// File: internal/agent/transcript.go
package agent

import (
	"github.com/xkilldash9x/webpilot/api/schemas"
)

// systemPreamble is the standing instruction that opens every transcript.
const systemPreamble = `You are an autonomous web browsing agent. You operate a real browser to
complete the task the user gives you.

Each turn you receive the current page state: its URL, title, outline,
a numbered list of interactive elements, and a markdown excerpt of the
content. You respond by calling exactly one tool.

Rules:
- Interact with elements only through their [id] numbers from the current
  page state. Ids change whenever the page changes; never reuse an id from
  an earlier state.
- Perform one action per turn, then study the new state before the next.
- If an expected element is missing, it may be below the fold: scroll, or
  wait if the page is still loading.
- Fill forms field by field. Check the stated value of a field after
  typing into it.
- Never invent facts, credentials or personal data. When the task needs
  information you do not have, ask for it with request_user_input.
- When the task is complete, call task_done with a concise result that
  answers the original task.
- If the task cannot be completed, call task_done and explain why.`

// transcript is the append-only conversational memory of one run. The first
// page state is merged into the task turn so the oracle's opening context is
// a single coherent message.
type transcript struct {
	turns  []schemas.Turn
	seeded bool
}

func newTranscript(task string) *transcript {
	return &transcript{
		turns: []schemas.Turn{
			{Role: schemas.RoleSystem, Content: systemPreamble},
			{Role: schemas.RoleState, Content: "Task: " + task},
		},
	}
}

// foldState records a freshly rendered page state.
func (tr *transcript) foldState(rendered string) {
	if !tr.seeded {
		tr.turns[1].Content += "\n\nCurrent page state:\n" + rendered
		tr.seeded = true
		return
	}
	tr.turns = append(tr.turns, schemas.Turn{
		Role:    schemas.RoleState,
		Content: "Current page state:\n" + rendered,
	})
}

// foldCall records the oracle's chosen action.
func (tr *transcript) foldCall(call *schemas.ToolCall) {
	tr.turns = append(tr.turns, schemas.Turn{Role: schemas.RoleDecision, Call: call})
}

// foldText records a plain-text oracle reply plus the nudge sent back for it.
func (tr *transcript) foldText(text string) {
	tr.turns = append(tr.turns,
		schemas.Turn{Role: schemas.RoleDecision, Content: text},
		schemas.Turn{
			Role:    schemas.RoleObservation,
			Content: "No tool was called, so nothing happened. Call one tool, or finish with task_done.",
		},
	)
}

// foldResult records the outcome of an executed (or denied) action.
func (tr *transcript) foldResult(call *schemas.ToolCall, result *schemas.ActionResult) {
	tr.turns = append(tr.turns, schemas.Turn{
		Role:   schemas.RoleObservation,
		Call:   call,
		Result: result,
	})
}

// snapshot returns a copy safe to hand to the oracle or the archive.
func (tr *transcript) snapshot() []schemas.Turn {
	out := make([]schemas.Turn, len(tr.turns))
	copy(out, tr.turns)
	return out
}
