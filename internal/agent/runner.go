// File: internal/agent/runner.go

// Package agent owns the control loop that drives a browser session toward
// a task: perceive the page, ask the oracle for one action, gate it, execute
// it, fold the outcome back into the transcript, repeat until a terminal
// action or the iteration ceiling.
package agent

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webpilot/api/schemas"
	"github.com/xkilldash9x/webpilot/internal/browser"
	"github.com/xkilldash9x/webpilot/internal/config"
	"github.com/xkilldash9x/webpilot/internal/interact"
	"github.com/xkilldash9x/webpilot/internal/perception"
	"github.com/xkilldash9x/webpilot/internal/policy"
)

// Runner executes one task run on a single logical thread of control. It is
// the only writer of the transcript and the only component that talks to
// both the oracle and the environment.
type Runner struct {
	logger    *zap.Logger
	cfg       config.AgentConfig
	sess      schemas.BrowserSession
	oracle    schemas.Oracle
	confirmer schemas.Confirmer
	builder   *perception.Builder
	executor  *interact.Executor
	gate      *policy.Gate
	tools     []schemas.ToolSpec

	// snap is the snapshot of the current cycle. Element ids from the oracle
	// resolve against it and nothing older.
	snap *schemas.Snapshot
}

// NewRunner wires a loop controller. A nil confirmer means destructive
// actions proceed unconfirmed.
func NewRunner(cfg *config.Config, sess schemas.BrowserSession, oracle schemas.Oracle, confirmer schemas.Confirmer, logger *zap.Logger) (*Runner, error) {
	gate, err := policy.NewGate(cfg.Policy, logger)
	if err != nil {
		return nil, err
	}
	return &Runner{
		logger:    logger.Named("agent"),
		cfg:       cfg.Agent,
		sess:      sess,
		oracle:    oracle,
		confirmer: confirmer,
		builder:   perception.NewBuilder(cfg.Perception, logger),
		executor:  interact.NewExecutor(cfg.Browser, logger),
		gate:      gate,
		tools:     Catalog(),
	}, nil
}

// Run drives the loop until a terminal action, a fatal error or the
// iteration ceiling. The returned record is populated in every case,
// including the error ones, so the caller can archive what happened.
func (r *Runner) Run(ctx context.Context, task string) (*schemas.RunRecord, error) {
	rec := &schemas.RunRecord{
		ID:        uuid.NewString(),
		Task:      task,
		Status:    schemas.RunFailed,
		StartedAt: time.Now().UTC(),
	}
	tr := newTranscript(task)
	defer func() {
		rec.FinishedAt = time.Now().UTC()
		rec.Transcript = tr.snapshot()
	}()

	r.logger.Info("Starting task run.",
		zap.String("run_id", rec.ID),
		zap.String("task", schemas.Truncate(task, 200)),
		zap.Int("max_iterations", r.cfg.MaxIterations))

	noAction := 0
	for iteration := 1; iteration <= r.cfg.MaxIterations; iteration++ {
		rec.Iterations = iteration
		if err := ctx.Err(); err != nil {
			return rec, fmt.Errorf("run cancelled: %w", err)
		}

		tr.foldState(r.perceive(ctx))

		decision, err := r.oracle.Decide(ctx, tr.snapshot(), r.tools)
		if err != nil {
			return rec, fmt.Errorf("%w: %v", ErrOracleUnavailable, err)
		}
		if decision == nil || (decision.Call == nil && decision.Text == "") {
			return rec, fmt.Errorf("%w: empty decision", ErrOracleUnavailable)
		}

		if decision.Call == nil {
			noAction++
			r.logger.Debug("Oracle replied without choosing an action.",
				zap.Int("iteration", iteration), zap.Int("consecutive", noAction))
			tr.foldText(decision.Text)
			if noAction >= r.cfg.MaxConsecutiveNoAction {
				return rec, fmt.Errorf("%w: no action chosen in %d consecutive turns",
					ErrOracleUnavailable, noAction)
			}
			continue
		}
		noAction = 0

		call := decision.Call
		r.logger.Info("Executing action.",
			zap.Int("iteration", iteration), zap.String("tool", call.Name))

		result := r.gateAndExecute(ctx, call)
		tr.foldCall(call)
		tr.foldResult(call, result)
		r.logger.Debug("Action result.",
			zap.String("tool", call.Name),
			zap.Bool("success", result.Success),
			zap.String("message", schemas.Truncate(result.Message, 200)))

		if result.Stop {
			if result.UserQuestion != "" {
				rec.Status = schemas.RunNeedsInput
				rec.Question = result.UserQuestion
			} else {
				rec.Status = schemas.RunCompleted
				rec.Result = result.Message
			}
			r.logger.Info("Task run finished.",
				zap.String("run_id", rec.ID),
				zap.String("status", string(rec.Status)),
				zap.Int("iterations", rec.Iterations))
			return rec, nil
		}
	}

	rec.Status = schemas.RunExhausted
	return rec, fmt.Errorf("%w (%d iterations)", ErrIterationsExhausted, r.cfg.MaxIterations)
}

// perceive captures and renders the current page state. A failed capture is
// reported as state text rather than aborting the run: the oracle can
// navigate or wait its way out of a broken page, but only if it hears about
// the breakage.
func (r *Runner) perceive(ctx context.Context) string {
	snap, err := r.capture(ctx)
	if err != nil {
		r.snap = nil
		r.logger.Warn("Perception failed.", zap.Error(err))
		return fmt.Sprintf("[%s] The page state could not be read: %v. Navigate somewhere, or wait and the next state may recover.",
			ErrCodeTransientEnvironment, err)
	}
	r.snap = snap
	return perception.Render(snap)
}

// capture runs one inspection pass plus the tab inventory. The
// context-destroyed class means a navigation tore the document down
// mid-read; wait for the load and retry the read exactly once.
func (r *Runner) capture(ctx context.Context) (*schemas.Snapshot, error) {
	scan, err := r.sess.Inspect(ctx)
	if err != nil && browser.IsContextDestroyed(err) {
		r.logger.Debug("Inspection hit a navigating page, retrying once.")
		if loadErr := r.sess.WaitForLoad(ctx); loadErr == nil {
			scan, err = r.sess.Inspect(ctx)
		}
	}
	if err != nil {
		return nil, err
	}

	tabs, active, err := r.sess.ListTabs(ctx)
	if err != nil {
		// The page state alone is still useful.
		r.logger.Debug("Tab inventory unavailable.", zap.Error(err))
		tabs, active = nil, 0
	}
	return r.builder.Build(scan, tabs, active), nil
}

// gateAndExecute screens the chosen call and, unless a destructive verdict
// is denied, dispatches it. A denial produces a negative result without the
// environment ever being touched.
func (r *Runner) gateAndExecute(ctx context.Context, call *schemas.ToolCall) *schemas.ActionResult {
	verdict := r.classifyCall(call)
	if verdict.Destructive && r.confirmer != nil {
		approved, err := r.confirmer.Confirm(ctx, verdict.Description)
		if err != nil {
			return failf(ErrCodePolicyDenied,
				"confirmation unavailable (%v); the action was not executed", err)
		}
		if !approved {
			return failf(ErrCodePolicyDenied,
				"the user declined this action (%s); it was not executed. Continue another way or finish with task_done",
				verdict.Description)
		}
		r.logger.Info("Destructive action approved by the user.", zap.String("tool", call.Name))
	}
	return r.execute(ctx, call)
}

// classifyCall runs the policy gate for the chosen call. Only clicks are
// ever classified; an unknown element id is handled later by the dispatcher
// and is never destructive by itself.
func (r *Runner) classifyCall(call *schemas.ToolCall) schemas.SecurityVerdict {
	if call.Name != schemas.ToolClickElement || r.snap == nil {
		return schemas.SecurityVerdict{}
	}
	args := decodeArgs[clickArgs](call.Args, r.logger)
	el, ok := r.snap.ElementByID(args.ElementID)
	if !ok {
		return schemas.SecurityVerdict{}
	}
	return r.gate.Evaluate(call.Name, el)
}
