package main

import (
	"context"
	"fmt"
	"io"
	"time"

	taskengine "github.com/Swind/go-task-engine"
	"github.com/Swind/go-task-engine/config"
	"github.com/Swind/go-task-engine/core"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
)

func newDemoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run a sample entity workload and print the resulting task trees",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			step, _ := cmd.Flags().GetDuration("step")
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			m, err := taskengine.NewManagerFromConfig(cfg)
			if err != nil {
				return err
			}
			return runDemo(cmd.Context(), cmd.OutOrStdout(), m, step, cfg.ShutdownTimeout)
		},
	}
	cmd.Flags().Duration("step", 50*time.Millisecond, "Duration of one simulated unit of work")
	return cmd
}

// runDemo starts an entity, polls its health and collects metrics from it in
// parallel, then prints what the manager recorded and shuts it down.
func runDemo(ctx context.Context, out io.Writer, m *core.ExecutionManager, step, shutdownTimeout time.Duration) error {
	if ctx == nil {
		ctx = context.Background()
	}
	entity := m.NewExecutionContext(core.TargetEntity("app-1"))

	work := func(name string, units int) core.Task {
		return core.NewTask(func(ctx context.Context) (any, error) {
			core.SetBlockingDetails(ctx, fmt.Sprintf("%s in progress", name))
			if err := core.Sleep(ctx, time.Duration(units)*step); err != nil {
				return nil, err
			}
			return name + " ok", nil
		}, core.WithName(name))
	}

	start := core.NewDynamicSequentialTask(func(ctx context.Context) (any, error) {
		launch := work("launch", 1)
		if err := core.QueueTask(ctx, launch); err != nil {
			return nil, err
		}
		core.SetBlockingDetails(ctx, "waiting for launch")
		if _, err := launch.Get(ctx); err != nil {
			return nil, err
		}
		return "running", nil
	},
		core.WithName("start"),
		core.WithDescription("provision, install and launch app-1"),
		core.WithTags(core.TagEffectorCall),
		core.WithChildren(work("provision", 2), work("install", 1)))

	health := core.ScheduleFunc(func(ctx context.Context) (any, error) {
		return fmt.Sprintf("healthy #%d", core.CurrentScheduledTask(ctx).RunCount()), nil
	}, []core.TaskOption{
		core.WithName("health-check"),
		core.WithPeriod(step),
		core.WithMaxIterations(3),
	}, core.WithName("health-probe"), core.Transient())

	collect := core.NewParallelTask([]core.Task{
		work("cpu", 1), work("memory", 1), work("disk", 2),
	}, core.WithName("collect-metrics"))

	var submitted []core.Task
	for _, t := range []core.Task{start, health, collect} {
		if _, err := entity.Submit(ctx, t); err != nil {
			return errors.Wrapf(err, "submit %s", t.DisplayName())
		}
		submitted = append(submitted, t)
	}

	for _, t := range submitted {
		if _, err := t.Get(ctx); err != nil {
			return errors.Wrapf(err, "%s", t.DisplayName())
		}
	}

	fmt.Fprintln(out, "Task trees:")
	for _, t := range submitted {
		printTree(out, t, 1)
	}

	fmt.Fprintf(out, "Tasks for entity app-1: %d\n", len(entity.Tasks()))
	fmt.Fprintf(out, "Effector calls: %d\n", len(m.TasksWithTag(core.TagEffectorCall)))

	fmt.Fprintln(out, "Recent tasks:")
	for _, rec := range m.RecentTasks(5) {
		fmt.Fprintf(out, "  %-16s %-10s %-18s %v\n", rec.Name, rec.State, rec.Kind, rec.Duration.Round(time.Millisecond))
	}

	if err := m.ShutdownGraceful(shutdownTimeout); err != nil {
		return err
	}
	stats := m.Stats()
	fmt.Fprintf(out, "Submitted %d, succeeded %d, failed %d, cancelled %d\n",
		stats.Submitted, stats.Succeeded, stats.Failed, stats.Cancelled)
	return nil
}
