// Package executor runs a build's pipeline steps sequentially against a
// checked-out workspace, capturing output, classifying failures, and
// finalizing the build and its steps in the store.
package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/centrixci/centrix-ci/internal/classifier"
	"github.com/centrixci/centrix-ci/internal/executil"
	"github.com/centrixci/centrix-ci/internal/forge"
	"github.com/centrixci/centrix-ci/internal/metrics"
	"github.com/centrixci/centrix-ci/internal/pipelineconfig"
	"github.com/centrixci/centrix-ci/internal/store"
)

const defaultStepTimeoutSecs = 600

// Executor runs one build at a time to completion. The scheduler is
// responsible for fanning out across builds up to max_concurrent.
type Executor struct {
	store  *store.Store
	forge  *forge.Client
	runner executil.Runner
	logger *zap.Logger
}

// New builds an Executor. forgeClient may be nil (no outbound status calls).
func New(st *store.Store, forgeClient *forge.Client, runner executil.Runner, logger *zap.Logger) *Executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if runner == nil {
		runner = executil.NewRunner()
	}
	return &Executor{store: st, forge: forgeClient, runner: runner, logger: logger}
}

// Run executes build's pipeline against project, driving it from running
// to a terminal status. It never returns an error for build-level
// failures (those are recorded as a failed build) — only for store
// errors severe enough that the build's terminal state could not be
// persisted.
func (e *Executor) Run(ctx context.Context, build *store.Build, project *store.Project) error {
	e.forge.PostStatus(ctx, project.ForgeRepo, build.CommitSHA, forge.Status{
		State:       "pending",
		Description: "Build running",
		Context:     "centrix-ci",
	})

	pipeline := pipelineconfig.Parse(project.PipelineJSON)

	repoURL := "https://github.com/" + project.ForgeRepo + ".git"
	ws, err := acquireWorkspace(ctx, repoURL, build.CommitSHA, pipeline.LocalPath, e.logger)
	if err != nil {
		e.logger.Error("executor: workspace acquisition failed",
			zap.String("build_id", build.ID), zap.Error(err))
		return e.finish(ctx, build, project, store.BuildFailure, summaryError(err))
	}
	defer func() {
		if cerr := ws.cleanup(); cerr != nil {
			e.logger.Warn("executor: workspace cleanup failed",
				zap.String("build_id", build.ID), zap.Error(cerr))
		}
	}()

	status := store.BuildSuccess
	failFast := false

	for i, step := range pipeline.Steps {
		row, err := e.store.AppendStepRunning(ctx, build.ID, step.Name, i+1)
		if err != nil {
			e.logger.Error("executor: append step failed",
				zap.String("build_id", build.ID), zap.String("step", step.Name), zap.Error(err))
			return e.finish(ctx, build, project, store.BuildFailure, summaryError(err))
		}

		if failFast {
			if err := e.store.FinalizeStep(ctx, row.ID, store.StepFailure, -1,
				"", "Skipped (previous step failed)"); err != nil {
				e.logger.Error("executor: finalize skipped step failed", zap.Error(err))
			}
			continue
		}

		outcome := e.runStep(ctx, ws.dir, build, step, pipeline.TimeoutSecs)

		if err := e.store.FinalizeStep(ctx, row.ID, outcome.status, outcome.exitCode,
			outcome.stdout, outcome.stderr); err != nil {
			e.logger.Error("executor: finalize step failed",
				zap.String("build_id", build.ID), zap.String("step", step.Name), zap.Error(err))
		}
		metrics.RecordStep(step.Name, outcome.durationMs)

		if outcome.status == store.StepFailure {
			status = store.BuildFailure
			failFast = true
			e.classifyFailure(ctx, build, project, step.Name, outcome.stdout+outcome.stderr)
		}
	}

	return e.finish(ctx, build, project, status, nil)
}

type stepOutcome struct {
	status     string
	exitCode   int
	stdout     string
	stderr     string
	durationMs int64
}

// runStep executes a single step with the pipeline's configured timeout,
// reporting a timeout as a failed step rather than propagating a Go error.
func (e *Executor) runStep(ctx context.Context, workDir string, build *store.Build, step pipelineconfig.Step, timeoutSecs int) stepOutcome {
	if timeoutSecs <= 0 {
		timeoutSecs = defaultStepTimeoutSecs
	}
	stepCtx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSecs)*time.Second)
	defer cancel()

	stdout := newTailBuffer()
	stderr := newTailBuffer()

	started := time.Now()

	env := map[string]string{
		"CI":          "true",
		"CI_BUILD_ID": build.ID,
		"CI_BRANCH":   build.Branch,
		"CI_COMMIT":   build.CommitSHA,
	}

	result, err := e.runner.Run(stepCtx, executil.Command{
		Name: "sh",
		Args: []string{"-c", step.Command},
		Dir:  workDir,
		Env:  env,
	})
	duration := time.Since(started).Milliseconds()

	if stepCtx.Err() == context.DeadlineExceeded {
		return stepOutcome{
			status:     store.StepFailure,
			exitCode:   -1,
			stdout:     stdout.String(),
			stderr:     fmt.Sprintf("Step timed out after %ds", timeoutSecs),
			durationMs: duration,
		}
	}

	if err != nil {
		return stepOutcome{
			status:     store.StepFailure,
			exitCode:   -1,
			stdout:     stdout.String(),
			stderr:     err.Error(),
			durationMs: duration,
		}
	}

	stdout.Write(result.Stdout)
	stderr.Write(result.Stderr)

	status := store.StepSuccess
	if result.ExitCode != 0 {
		status = store.StepFailure
	}

	return stepOutcome{
		status:     status,
		exitCode:   result.ExitCode,
		stdout:     stdout.String(),
		stderr:     stderr.String(),
		durationMs: duration,
	}
}

// classifyFailure fingerprints a failing step's output and records it in
// the tenant's canonical error table.
func (e *Executor) classifyFailure(ctx context.Context, build *store.Build, project *store.Project, stepName, raw string) {
	c := classifier.Classify(raw)
	metrics.RecordError(c.Category)

	if err := e.store.UpsertErrorAndOccurrence(ctx, build.TenantID, &project.ID,
		c.Category, "error", c.Title, raw, c.Normalized, c.Fingerprint, build.ID, stepName); err != nil {
		e.logger.Error("executor: upsert error failed",
			zap.String("build_id", build.ID), zap.String("step", stepName), zap.Error(err))
	}
}

// finish finalizes the build's terminal status, records metrics, and
// posts the outbound forge status.
func (e *Executor) finish(ctx context.Context, build *store.Build, project *store.Project, status string, summary json.RawMessage) error {
	if err := e.store.FinalizeBuild(ctx, build.ID, status, summary); err != nil {
		return fmt.Errorf("finalize build: %w", err)
	}

	var durationMs int64
	if build.StartedAt != nil {
		durationMs = time.Since(*build.StartedAt).Milliseconds()
	}
	metrics.RecordBuild(status, durationMs)

	forgeState := "success"
	description := "Build succeeded"
	if status == store.BuildFailure {
		forgeState = "failure"
		description = "Build failed"
	} else if status == store.BuildCancelled {
		forgeState = "error"
		description = "Build cancelled"
	}
	e.forge.PostStatus(ctx, project.ForgeRepo, build.CommitSHA, forge.Status{
		State:       forgeState,
		Description: description,
		Context:     "centrix-ci",
	})

	return nil
}

func summaryError(err error) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"error": err.Error()})
	return b
}
