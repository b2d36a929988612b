// Package pipeline drives stage-by-stage, step-by-step execution of a
// declarative pipeline definition.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/construdata/permit-etl/internal/config"
	"github.com/construdata/permit-etl/internal/model"
	"github.com/construdata/permit-etl/internal/progress"
	"github.com/construdata/permit-etl/internal/registry"
)

// StatusSuccess is the top-level result status of a run that executed to the
// end. It signals process completion, not step correctness: callers inspect
// the per-stage results for step errors.
const (
	StatusSuccess = "success"
	StatusStopped = "stopped"
)

// Executor runs a pipeline definition against one workspace. Execution is
// sequential; steps within a stage run strictly in declared order because
// later steps read files earlier steps wrote.
type Executor struct {
	cfg       *config.PipelineConfig
	registry  *registry.Registry
	tracker   *progress.Tracker
	workspace string
}

// NewExecutor builds an executor over a parsed pipeline definition, a step
// registry and a resolved workspace path.
func NewExecutor(cfg *config.PipelineConfig, reg *registry.Registry, tracker *progress.Tracker, workspacePath string) *Executor {
	return &Executor{cfg: cfg, registry: reg, tracker: tracker, workspace: workspacePath}
}

// Execute runs the stage subsequence bounded by startStage and endStage,
// inclusive. Unmatched stage IDs fall back to the first and last stage.
//
// A failing step is captured as an error result and never aborts the stage
// or the run; the returned status is "success" whenever execution reached
// the end. Cancellation is cooperative and takes effect between steps only;
// a canceled run returns its partial results with status "stopped".
func (e *Executor) Execute(ctx context.Context, startStage, endStage string) (*model.RunResult, error) {
	stages := e.selectStages(startStage, endStage)
	totalSteps := 0
	for _, stage := range stages {
		totalSteps += len(stage.Steps)
	}

	log := zap.L().With(
		zap.String("component", "executor"),
		zap.String("pipeline", e.cfg.Name),
		zap.String("workspace", e.workspace),
	)
	log.Info("starting pipeline", zap.Int("stages", len(stages)), zap.Int("steps", totalSteps))
	e.tracker.StartPipeline(totalSteps)

	results := make(map[string][]model.StepResult, len(stages))
	for _, stage := range stages {
		log.Info("starting stage", zap.String("stage", stage.ID), zap.Int("steps", len(stage.Steps)))
		e.tracker.Log("Starting stage: " + stage.ID)

		stageResults := make([]model.StepResult, 0, len(stage.Steps))
		for _, step := range stage.Steps {
			if ctx.Err() != nil {
				log.Warn("stop requested, halting between steps", zap.String("stage", stage.ID))
				e.tracker.FailPipeline("stop requested")
				results[stage.ID] = stageResults
				return e.result(StatusStopped, results), nil
			}
			stageResults = append(stageResults, e.runStep(ctx, step))
		}
		results[stage.ID] = stageResults
	}

	e.tracker.CompletePipeline()
	log.Info("pipeline complete", zap.Int("stages", len(results)))
	return e.result(StatusSuccess, results), nil
}

// runStep resolves arguments, looks up and invokes one step, converting any
// error or panic into an error result.
func (e *Executor) runStep(ctx context.Context, step config.StepConfig) model.StepResult {
	e.tracker.StartStep(step.Name)

	res, err := e.invoke(ctx, step)
	if err != nil {
		zap.L().Error("step failed",
			zap.String("component", "executor"),
			zap.String("step", step.Name),
			zap.Error(err),
		)
		e.tracker.FailStep(step.Name, err.Error())
		return model.StepResult{
			Step:   step.Name,
			Title:  step.Title,
			Status: "error",
			Error:  err.Error(),
		}
	}

	e.tracker.CompleteStep(step.Name)
	return model.StepResult{
		Step:   step.Name,
		Title:  step.Title,
		Status: "success",
		Result: res,
	}
}

// invoke executes one step with panic recovery.
func (e *Executor) invoke(ctx context.Context, step config.StepConfig) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("step %s panicked: %v", step.Name, r)
		}
	}()

	impl, err := e.registry.Get(step.Name)
	if err != nil {
		return nil, err
	}
	args := config.ResolveArgs(step.Args, e.workspace)
	return impl.Execute(ctx, args)
}

// selectStages returns the inclusive stage range. Unknown IDs are tolerated:
// forward progress beats strict validation here.
func (e *Executor) selectStages(startStage, endStage string) []config.StageConfig {
	stages := e.cfg.Stages
	start := 0
	end := len(stages) - 1

	if i := e.stageIndex(startStage); i >= 0 {
		start = i
	}
	if i := e.stageIndex(endStage); i >= 0 {
		end = i
	}
	if start > end || len(stages) == 0 {
		return nil
	}
	return stages[start : end+1]
}

func (e *Executor) stageIndex(id string) int {
	if id == "" {
		return -1
	}
	for i, stage := range e.cfg.Stages {
		if stage.ID == id {
			return i
		}
	}
	zap.L().Warn("unknown stage id, falling back to full range bound",
		zap.String("component", "executor"), zap.String("stage", id))
	return -1
}

// result assembles the run result with a tracker snapshot attached.
func (e *Executor) result(status string, stages map[string][]model.StepResult) *model.RunResult {
	out := &model.RunResult{
		Status:    status,
		Workspace: e.workspace,
		Stages:    stages,
	}
	if summary, err := json.Marshal(e.tracker.Summary()); err == nil {
		out.Summary = summary
	}
	return out
}
