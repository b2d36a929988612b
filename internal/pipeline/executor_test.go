package pipeline

import (
	"context"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/construdata/permit-etl/internal/config"
	"github.com/construdata/permit-etl/internal/progress"
	"github.com/construdata/permit-etl/internal/registry"
)

// recordingStep remembers the args it ran with.
type recordingStep struct {
	calls []map[string]any
	err   error
	panic bool
}

func (s *recordingStep) Execute(_ context.Context, args map[string]any) (map[string]any, error) {
	s.calls = append(s.calls, args)
	if s.panic {
		panic("step exploded")
	}
	if s.err != nil {
		return nil, s.err
	}
	return map[string]any{"ok": true}, nil
}

func testPipeline() *config.PipelineConfig {
	return &config.PipelineConfig{
		Name: "test",
		Stages: []config.StageConfig{
			{ID: "first", Steps: []config.StepConfig{
				{Name: "a", Title: "Step A", Args: map[string]any{"out": "${workspace}/a.json"}},
			}},
			{ID: "second", Steps: []config.StepConfig{
				{Name: "b", Title: "Step B"},
				{Name: "c", Title: "Step C"},
			}},
		},
	}
}

func TestExecute_AllStages(t *testing.T) {
	reg := registry.NewRegistry()
	a, b, c := &recordingStep{}, &recordingStep{}, &recordingStep{}
	reg.Register("a", a)
	reg.Register("b", b)
	reg.Register("c", c)

	tracker := progress.NewTracker()
	exec := NewExecutor(testPipeline(), reg, tracker, "/ws")

	result, err := exec.Execute(context.Background(), "", "")
	require.NoError(t, err)

	assert.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, "/ws", result.Workspace)
	require.Len(t, result.Stages, 2)
	assert.Len(t, result.Stages["first"], 1)
	assert.Len(t, result.Stages["second"], 2)

	// ${workspace} resolved before the step ran.
	require.Len(t, a.calls, 1)
	assert.Equal(t, "/ws/a.json", a.calls[0]["out"])

	s := tracker.Summary()
	assert.Equal(t, progress.StateCompleted, s.State)
	assert.Equal(t, 3, s.CompletedSteps)
}

func TestExecute_StepFailureDoesNotAbortRun(t *testing.T) {
	reg := registry.NewRegistry()
	a := &recordingStep{}
	b := &recordingStep{err: eris.New("merge blew up")}
	c := &recordingStep{}
	reg.Register("a", a)
	reg.Register("b", b)
	reg.Register("c", c)

	exec := NewExecutor(testPipeline(), reg, progress.NewTracker(), "/ws")
	result, err := exec.Execute(context.Background(), "", "")
	require.NoError(t, err)

	// Top-level status is a completion signal, not a correctness signal.
	assert.Equal(t, StatusSuccess, result.Status)

	second := result.Stages["second"]
	require.Len(t, second, 2)
	assert.Equal(t, "error", second[0].Status)
	assert.Contains(t, second[0].Error, "merge blew up")
	assert.Equal(t, "success", second[1].Status)

	// The step after the failing one still ran.
	assert.Len(t, c.calls, 1)
}

func TestExecute_PanickingStepCaptured(t *testing.T) {
	reg := registry.NewRegistry()
	reg.Register("a", &recordingStep{panic: true})
	reg.Register("b", &recordingStep{})
	reg.Register("c", &recordingStep{})

	exec := NewExecutor(testPipeline(), reg, progress.NewTracker(), "/ws")
	result, err := exec.Execute(context.Background(), "", "")
	require.NoError(t, err)

	first := result.Stages["first"]
	require.Len(t, first, 1)
	assert.Equal(t, "error", first[0].Status)
	assert.Contains(t, first[0].Error, "step exploded")
}

func TestExecute_UnregisteredStepIsStepError(t *testing.T) {
	reg := registry.NewRegistry()
	reg.Register("a", &recordingStep{})
	reg.Register("c", &recordingStep{})
	// "b" deliberately missing.

	exec := NewExecutor(testPipeline(), reg, progress.NewTracker(), "/ws")
	result, err := exec.Execute(context.Background(), "", "")
	require.NoError(t, err)

	second := result.Stages["second"]
	require.Len(t, second, 2)
	assert.Equal(t, "error", second[0].Status)
	assert.Equal(t, "success", second[1].Status)
}

func TestExecute_StageRange(t *testing.T) {
	reg := registry.NewRegistry()
	a, b, c := &recordingStep{}, &recordingStep{}, &recordingStep{}
	reg.Register("a", a)
	reg.Register("b", b)
	reg.Register("c", c)

	exec := NewExecutor(testPipeline(), reg, progress.NewTracker(), "/ws")
	result, err := exec.Execute(context.Background(), "second", "second")
	require.NoError(t, err)

	assert.NotContains(t, result.Stages, "first")
	assert.Contains(t, result.Stages, "second")
	assert.Empty(t, a.calls)
	assert.Len(t, b.calls, 1)
}

func TestExecute_UnknownStageIDsFallBack(t *testing.T) {
	reg := registry.NewRegistry()
	a, b, c := &recordingStep{}, &recordingStep{}, &recordingStep{}
	reg.Register("a", a)
	reg.Register("b", b)
	reg.Register("c", c)

	exec := NewExecutor(testPipeline(), reg, progress.NewTracker(), "/ws")
	result, err := exec.Execute(context.Background(), "no-such-stage", "also-missing")
	require.NoError(t, err)

	// Full range executed.
	assert.Len(t, result.Stages, 2)
	assert.Len(t, a.calls, 1)
	assert.Len(t, c.calls, 1)
}

func TestExecute_StopBetweenSteps(t *testing.T) {
	reg := registry.NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())

	a := &recordingStep{}
	b := registry.StepFunc(func(context.Context, map[string]any) (map[string]any, error) {
		cancel() // stop requested while b runs; c must not start
		return map[string]any{}, nil
	})
	c := &recordingStep{}
	reg.Register("a", a)
	reg.Register("b", b)
	reg.Register("c", c)

	exec := NewExecutor(testPipeline(), reg, progress.NewTracker(), "/ws")
	result, err := exec.Execute(ctx, "", "")
	require.NoError(t, err)

	assert.Equal(t, StatusStopped, result.Status)
	assert.Empty(t, c.calls)
	// Results up to the stop are preserved.
	assert.Len(t, result.Stages["first"], 1)
	assert.Len(t, result.Stages["second"], 1)
}

func TestExecute_SummaryAttached(t *testing.T) {
	reg := registry.NewRegistry()
	reg.Register("a", &recordingStep{})
	reg.Register("b", &recordingStep{})
	reg.Register("c", &recordingStep{})

	exec := NewExecutor(testPipeline(), reg, progress.NewTracker(), "/ws")
	result, err := exec.Execute(context.Background(), "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, result.Summary)
}
