package main

import (
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/construdata/permit-etl/internal/config"
	"github.com/construdata/permit-etl/internal/model"
	"github.com/construdata/permit-etl/internal/pipeline"
	"github.com/construdata/permit-etl/internal/progress"
	"github.com/construdata/permit-etl/internal/registry"
	"github.com/construdata/permit-etl/internal/workspace"
)

var (
	runPipelineFile string
	runWorkspace    string
	runSourceFile   string
	runStartStage   string
	runEndStage     string
	runWorkRoot     string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute a pipeline definition",
	Long:  "Loads a YAML pipeline definition, prepares a workspace, and executes the configured stages. Step failures are captured in the result, not fatal.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		pipeCfg, err := config.LoadPipeline(runPipelineFile)
		if err != nil {
			return err
		}

		workRoot := runWorkRoot
		if workRoot == "" {
			workRoot = pipeCfg.WorkspaceRoot
		}
		if workRoot == "" {
			workRoot = "workspaces"
		}

		mgr, err := workspace.NewManager(workRoot)
		if err != nil {
			return err
		}
		if runWorkspace != "" {
			if err := mgr.Load(runWorkspace); err != nil {
				return err
			}
		} else {
			if _, err := mgr.Create(pipeCfg.Name, runSourceFile); err != nil {
				return err
			}
			if runSourceFile != "" {
				if _, err := mgr.CopyFileIn(runSourceFile); err != nil {
					return err
				}
			}
		}
		wsPath := mgr.Current()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		run, err := st.CreateRun(ctx, pipeCfg.Name, wsPath)
		if err != nil {
			return err
		}
		if err := st.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning); err != nil {
			return err
		}

		tracker := progress.NewTracker()
		tracker.Subscribe(func(evt progress.Event) {
			zap.L().Debug("progress",
				zap.String("event", string(evt.Type)),
				zap.String("step", evt.StepName),
				zap.String("message", evt.Message),
			)
		})

		reg := registry.NewDefaultRegistry(&registry.Services{
			Config:   cfg,
			Reporter: tracker,
		})

		exec := pipeline.NewExecutor(pipeCfg, reg, tracker, wsPath)
		result, err := exec.Execute(ctx, runStartStage, runEndStage)
		if err != nil {
			_ = st.UpdateRunStatus(ctx, run.ID, model.RunStatusFailed)
			return eris.Wrap(err, "pipeline run")
		}

		status := model.RunStatusCompleted
		if result.Status != pipeline.StatusSuccess {
			status = model.RunStatusFailed
		}
		if err := st.UpdateRunResult(ctx, run.ID, status, result); err != nil {
			return err
		}

		zap.L().Info("run recorded",
			zap.String("run_id", run.ID),
			zap.String("status", result.Status),
			zap.String("workspace", wsPath),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	},
}

func init() {
	runCmd.Flags().StringVar(&runPipelineFile, "pipeline", "", "pipeline definition YAML (required)")
	runCmd.Flags().StringVar(&runWorkspace, "workspace", "", "existing workspace path (default: create a new one)")
	runCmd.Flags().StringVar(&runSourceFile, "source", "", "source file copied into the workspace input dir")
	runCmd.Flags().StringVar(&runStartStage, "start-stage", "", "first stage to execute (default: first)")
	runCmd.Flags().StringVar(&runEndStage, "end-stage", "", "last stage to execute (default: last)")
	runCmd.Flags().StringVar(&runWorkRoot, "workspace-root", "", "workspace base directory (default from pipeline definition)")
	_ = runCmd.MarkFlagRequired("pipeline")
	rootCmd.AddCommand(runCmd)
}
