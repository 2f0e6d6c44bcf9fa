// File: internal/agent/runner_test.go
package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/webpilot/api/schemas"
)

func TestTaskDoneOnFirstDecisionEndsAfterOneCycle(t *testing.T) {
	oracle := &fakeOracle{decisions: []*schemas.Decision{
		callDecision(t, schemas.ToolTaskDone, map[string]any{"result": "The answer is 42."}),
	}}
	env := newFakeEnv(buttonNode("Go"))

	rec, err := newTestRunner(t, testConfig(), env, oracle, nil).Run(context.Background(), "find the answer")
	require.NoError(t, err)

	assert.Equal(t, schemas.RunCompleted, rec.Status)
	assert.Equal(t, "The answer is 42.", rec.Result)
	assert.Equal(t, 1, rec.Iterations)
	assert.Equal(t, 1, oracle.callCount())
	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.FinishedAt.Before(rec.StartedAt))
}

func TestNonTerminalOracleExhaustsIterationCeiling(t *testing.T) {
	cfg := testConfig()
	cfg.Agent.MaxIterations = 3

	oracle := &fakeOracle{decisions: []*schemas.Decision{
		callDecision(t, schemas.ToolScroll, map[string]any{"direction": "down"}),
	}}
	env := newFakeEnv(buttonNode("Go"))

	rec, err := newTestRunner(t, cfg, env, oracle, nil).Run(context.Background(), "scroll forever")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIterationsExhausted)

	assert.Equal(t, schemas.RunExhausted, rec.Status)
	assert.Equal(t, 3, rec.Iterations)
	assert.Equal(t, 3, oracle.callCount())
	assert.Equal(t, 3, env.countPrefix("scroll"))
}

func TestDeniedDestructiveClickNeverTouchesEnvironment(t *testing.T) {
	oracle := &fakeOracle{decisions: []*schemas.Decision{
		callDecision(t, schemas.ToolClickElement, map[string]any{"element_id": 1}),
		callDecision(t, schemas.ToolTaskDone, map[string]any{"result": "stopped"}),
	}}
	env := newFakeEnv(buttonNode("Delete account"))
	confirmer := &boolConfirmer{answer: false}

	rec, err := newTestRunner(t, testConfig(), env, oracle, confirmer).Run(context.Background(), "clean up the account")
	require.NoError(t, err)

	assert.Equal(t, 1, confirmer.asked)
	assert.Contains(t, confirmer.lastMsg, "Delete account")

	// The environment saw perception traffic only, never the click.
	assert.Zero(t, env.countPrefix("click:"))
	assert.Zero(t, env.countPrefix("force:"))
	assert.Zero(t, env.countPrefix("script:"))

	var denial *schemas.Turn
	for i := range rec.Transcript {
		turn := &rec.Transcript[i]
		if turn.Role == schemas.RoleObservation && turn.Result != nil && turn.Call != nil &&
			turn.Call.Name == schemas.ToolClickElement {
			denial = turn
		}
	}
	require.NotNil(t, denial, "the denial must be folded into the transcript")
	assert.False(t, denial.Result.Success)
	assert.Contains(t, denial.Result.Message, string(ErrCodePolicyDenied))
	assert.Equal(t, schemas.RunCompleted, rec.Status)
}

func TestApprovedDestructiveClickExecutes(t *testing.T) {
	oracle := &fakeOracle{decisions: []*schemas.Decision{
		callDecision(t, schemas.ToolClickElement, map[string]any{"element_id": 1}),
		callDecision(t, schemas.ToolTaskDone, map[string]any{"result": "done"}),
	}}
	env := newFakeEnv(buttonNode("Delete account"))
	confirmer := &boolConfirmer{answer: true}

	_, err := newTestRunner(t, testConfig(), env, oracle, confirmer).Run(context.Background(), "delete it")
	require.NoError(t, err)

	assert.Equal(t, 1, confirmer.asked)
	assert.NotZero(t, env.countPrefix("click:"), "an approved click must reach the environment")
}

func TestNilConfirmerProceedsUnconfirmed(t *testing.T) {
	oracle := &fakeOracle{decisions: []*schemas.Decision{
		callDecision(t, schemas.ToolClickElement, map[string]any{"element_id": 1}),
		callDecision(t, schemas.ToolTaskDone, map[string]any{"result": "done"}),
	}}
	env := newFakeEnv(buttonNode("Delete account"))

	_, err := newTestRunner(t, testConfig(), env, oracle, nil).Run(context.Background(), "delete it")
	require.NoError(t, err)
	assert.NotZero(t, env.countPrefix("click:"))
}

func TestHarmlessClickIsNotGated(t *testing.T) {
	oracle := &fakeOracle{decisions: []*schemas.Decision{
		callDecision(t, schemas.ToolClickElement, map[string]any{"element_id": 1}),
		callDecision(t, schemas.ToolTaskDone, map[string]any{"result": "done"}),
	}}
	env := newFakeEnv(buttonNode("Show details"))
	confirmer := &boolConfirmer{answer: false}

	_, err := newTestRunner(t, testConfig(), env, oracle, confirmer).Run(context.Background(), "open the details")
	require.NoError(t, err)
	assert.Zero(t, confirmer.asked)
	assert.NotZero(t, env.countPrefix("click:"))
}

func TestRequestUserInputStopsDistinctly(t *testing.T) {
	oracle := &fakeOracle{decisions: []*schemas.Decision{
		callDecision(t, schemas.ToolRequestUserInput, map[string]any{"question": "Which size do you want?"}),
	}}
	env := newFakeEnv(buttonNode("Go"))

	rec, err := newTestRunner(t, testConfig(), env, oracle, nil).Run(context.Background(), "buy a shirt")
	require.NoError(t, err)

	assert.Equal(t, schemas.RunNeedsInput, rec.Status)
	assert.Equal(t, "Which size do you want?", rec.Question)
	assert.Empty(t, rec.Result)
}

func TestPlainTextDecisionContinuesWithoutExecution(t *testing.T) {
	oracle := &fakeOracle{decisions: []*schemas.Decision{
		{Text: "Let me look at the page first."},
		callDecision(t, schemas.ToolTaskDone, map[string]any{"result": "done"}),
	}}
	env := newFakeEnv(buttonNode("Go"))

	rec, err := newTestRunner(t, testConfig(), env, oracle, nil).Run(context.Background(), "do a thing")
	require.NoError(t, err)

	assert.Equal(t, 2, rec.Iterations)
	assert.Zero(t, env.countPrefix("click:"))

	var sawText bool
	for _, turn := range rec.Transcript {
		if turn.Role == schemas.RoleDecision && turn.Content == "Let me look at the page first." {
			sawText = true
		}
	}
	assert.True(t, sawText, "the plain-text reply must be folded into the transcript")
}

func TestConsecutiveNoActionLimitFailsTheRun(t *testing.T) {
	cfg := testConfig()
	cfg.Agent.MaxConsecutiveNoAction = 2
	cfg.Agent.MaxIterations = 10

	oracle := &fakeOracle{decisions: []*schemas.Decision{{Text: "hmm"}}}
	env := newFakeEnv(buttonNode("Go"))

	rec, err := newTestRunner(t, cfg, env, oracle, nil).Run(context.Background(), "stall")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOracleUnavailable)
	assert.Equal(t, schemas.RunFailed, rec.Status)
	assert.Equal(t, 2, oracle.callCount())
}

func TestOracleErrorIsFatal(t *testing.T) {
	oracle := &fakeOracle{err: errors.New("api quota exceeded")}
	env := newFakeEnv(buttonNode("Go"))

	rec, err := newTestRunner(t, testConfig(), env, oracle, nil).Run(context.Background(), "anything")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOracleUnavailable)
	assert.Equal(t, schemas.RunFailed, rec.Status)
	assert.Equal(t, 1, oracle.callCount())
}

func TestFirstStateIsMergedIntoTaskTurn(t *testing.T) {
	oracle := &fakeOracle{decisions: []*schemas.Decision{
		callDecision(t, schemas.ToolScroll, map[string]any{"direction": "down"}),
		callDecision(t, schemas.ToolTaskDone, map[string]any{"result": "done"}),
	}}
	env := newFakeEnv(buttonNode("Go"))

	_, err := newTestRunner(t, testConfig(), env, oracle, nil).Run(context.Background(), "scroll once")
	require.NoError(t, err)

	first := oracle.transcripts[0]
	require.Len(t, first, 2, "the opening context is system + one merged task/state turn")
	assert.Equal(t, schemas.RoleSystem, first[0].Role)
	assert.Equal(t, schemas.RoleState, first[1].Role)
	assert.Contains(t, first[1].Content, "Task: scroll once")
	assert.Contains(t, first[1].Content, "https://example.test/")

	second := oracle.lastTranscript()
	stateTurns := 0
	for _, turn := range second {
		if turn.Role == schemas.RoleState {
			stateTurns++
		}
	}
	assert.Equal(t, 2, stateTurns, "the second cycle appends a separate state turn")
}

func TestInspectRetriedOnceAfterNavigationTeardown(t *testing.T) {
	env := newFakeEnv(buttonNode("Go"))
	env.inspectErr = errors.New("Execution context was destroyed")

	oracle := &fakeOracle{decisions: []*schemas.Decision{
		callDecision(t, schemas.ToolTaskDone, map[string]any{"result": "done"}),
	}}

	rec, err := newTestRunner(t, testConfig(), env, oracle, nil).Run(context.Background(), "look")
	require.NoError(t, err)

	assert.Equal(t, 2, env.countPrefix("inspect"))
	assert.Equal(t, 1, env.countPrefix("wait_for_load"))

	// Both reads failed, so the state turn carries the error instead.
	joined := strings.Builder{}
	for _, turn := range rec.Transcript {
		if turn.Role == schemas.RoleState {
			joined.WriteString(turn.Content)
		}
	}
	assert.Contains(t, joined.String(), string(ErrCodeTransientEnvironment))
}

func TestCancelledContextStopsTheRun(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	oracle := &fakeOracle{decisions: []*schemas.Decision{
		callDecision(t, schemas.ToolTaskDone, map[string]any{"result": "done"}),
	}}
	env := newFakeEnv(buttonNode("Go"))

	rec, err := newTestRunner(t, testConfig(), env, oracle, nil).Run(ctx, "anything")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, schemas.RunFailed, rec.Status)
	assert.Zero(t, oracle.callCount())
}
