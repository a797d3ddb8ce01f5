package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/phrazzld/scry-tasks/internal/domain"
	"github.com/phrazzld/scry-tasks/internal/task"
)

type submitOptions struct {
	owner    string
	taskType string
	payload  string
	complex  bool
	wait     bool
	interval time.Duration
	timeout  time.Duration
}

var submitOpts submitOptions

var submitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a task from the command line",
	Long: `Submit a task directly to the configured store and queue, printing the
task as JSON. With --wait the command polls until the task finishes and
prints the final state.

With the memory storage driver no other process can see the task, so the
command runs a worker pool in-process for the duration of the wait.`,
	Example: `  scry-tasks submit --owner user-1 --type summary --payload "text:Photosynthesis converts light..." --wait
  scry-tasks submit --owner user-1 --type flashcards --payload doc:3f1c`,
	Args: cobra.NoArgs,
	RunE: runSubmit,
}

func init() {
	f := submitCmd.Flags()
	f.StringVar(&submitOpts.owner, "owner", "", "owner ID of the task")
	f.StringVar(&submitOpts.taskType, "type", "", "task type (summary, flashcards, assessment, homework, tutor_step, glossary, diagram, chat)")
	f.StringVar(&submitOpts.payload, "payload", "", "payload reference (doc:<id>, text:<raw>, conv:<id>, audio:<id>)")
	f.BoolVar(&submitOpts.complex, "complex", false, "request the reasoning backend")
	f.BoolVar(&submitOpts.wait, "wait", false, "wait for the task to finish")
	f.DurationVar(&submitOpts.interval, "poll-interval", time.Second, "status poll interval with --wait")
	f.DurationVar(&submitOpts.timeout, "timeout", 5*time.Minute, "maximum wait with --wait")
	_ = submitCmd.MarkFlagRequired("owner")
	_ = submitCmd.MarkFlagRequired("type")
	_ = submitCmd.MarkFlagRequired("payload")
	rootCmd.AddCommand(submitCmd)
}

func runSubmit(cmd *cobra.Command, _ []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	app, err := newApplication(ctx, cfg, log, nil)
	if err != nil {
		return err
	}
	defer app.close(context.Background())

	return submitTask(ctx, app, submitOpts, cmd.OutOrStdout())
}

// submitTask submits one task and optionally waits for it, writing the task
// as JSON to out.
func submitTask(ctx context.Context, app *application, opts submitOptions, out io.Writer) error {
	workCtx, cancelWork := context.WithCancel(ctx)
	workersDone := make(chan error, 1)
	if opts.wait && app.config.Storage.Driver == "memory" {
		go func() { workersDone <- app.runWorkers(workCtx) }()
	} else {
		close(workersDone)
	}
	defer func() {
		cancelWork()
		if err := <-workersDone; err != nil {
			app.logger.Error("in-process workers stopped with error", "error", err)
		}
	}()

	t, err := app.pipeline.Submit(ctx, task.Submission{
		OwnerID:          opts.owner,
		Type:             domain.TaskType(opts.taskType),
		PayloadRef:       opts.payload,
		ComplexReasoning: opts.complex,
	})
	if err != nil {
		return err
	}

	if opts.wait {
		poller := task.NewPoller(app.pipeline, opts.interval, opts.timeout)
		final, err := poller.Wait(ctx, t.ID, opts.owner)
		if final != nil {
			t = final
		}
		if err != nil {
			if errors.Is(err, task.ErrPollTimeout) {
				_ = writeTask(out, t)
			}
			return err
		}
	}

	return writeTask(out, t)
}

func writeTask(out io.Writer, t *domain.Task) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	if err := enc.Encode(t); err != nil {
		return fmt.Errorf("failed to encode task: %w", err)
	}
	return nil
}
