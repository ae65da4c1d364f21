// cmd/matchctl/commands.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"companion-workers/internal/app"
	"companion-workers/internal/common/config"
	"companion-workers/internal/common/logger"
	"companion-workers/internal/common/observability"
	"companion-workers/internal/matching/session"
	"companion-workers/internal/models"
	"companion-workers/internal/search"
	ms "companion-workers/internal/workers/maintenance/maintenance-sweep"
	"companion-workers/pkg/registry"
)

type options struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "matchctl",
		Short:         "Inspect and operate the companionship matching lifecycle",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&opts.configPath, "config", "", "config file (default: ./configs/config.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level")

	root.AddCommand(
		progressionCmd(opts),
		coolingCmd(opts),
		sweepCmd(opts),
		queueCmd(opts),
		watchCmd(opts),
		tasksCmd(),
	)
	return root
}

// withApp loads configuration, wires the engines and runs fn until it
// returns or the process is interrupted.
func withApp(opts *options, fn func(ctx context.Context, a *app.App) error) error {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFromFile(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	zapLog := logger.New(opts.logLevel, "console", "stderr")
	defer zapLog.Sync()
	log := logger.NewZapAdapter(zapLog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs := observability.New("matchctl")
	defer obs.Shutdown()

	a, err := app.New(ctx, cfg, obs, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func progressionCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "progression [user-id]",
		Short: "Show the stage progression of a user's current relationship",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(ctx context.Context, a *app.App) error {
				p, err := a.Stages.GetStageProgression(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), p)
			})
		},
	}
}

func coolingCmd(opts *options) *cobra.Command {
	var follow bool
	cmd := &cobra.Command{
		Use:   "cooling [user-id]",
		Short: "Show a user's cooling-off period",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(ctx context.Context, a *app.App) error {
				info, err := a.Cooling.GetCoolingPeriodInfo(ctx, args[0])
				if err != nil {
					return err
				}
				if err := printJSON(cmd.OutOrStdout(), info); err != nil {
					return err
				}
				if !follow || !info.IsInCoolingPeriod {
					return nil
				}
				cd, err := a.Cooling.Countdown(ctx, args[0], time.Second)
				if err != nil {
					return err
				}
				return cd.Run(ctx, func(remaining time.Duration) {
					fmt.Fprintf(cmd.OutOrStdout(), "\rcooling ends in %s   ", remaining.Truncate(time.Second))
				})
			})
		},
	}
	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "keep printing the remaining time")
	return cmd
}

func sweepCmd(opts *options) *cobra.Command {
	var batch int
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one maintenance pass: expired cooldowns, pre-match reminders, parked side effects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(ctx context.Context, a *app.App) error {
				cfg := ms.DefaultConfig()
				cfg.BatchSize = a.Config.Matching.SweepBatchSize
				if err := cfg.Validate(); err != nil {
					return err
				}
				h := ms.NewHandler(cfg, ms.Deps{Cooling: a.Cooling, PreMatch: a.Interests, Effects: a.Effects}, nil, logger.NewNoOpLogger())
				out, err := h.Sweep(ctx, batch)
				if out != nil {
					if perr := printJSON(cmd.OutOrStdout(), out); perr != nil {
						return perr
					}
				}
				return err
			})
		},
	}
	cmd.Flags().IntVar(&batch, "batch", 0, "rows per pass (default from config)")
	return cmd
}

func queueCmd(opts *options) *cobra.Command {
	var (
		q        search.Query
		statuses []string
	)
	cmd := &cobra.Command{
		Use:   "queue [text]",
		Short: "Search the application review queue",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				q.Text = args[0]
			}
			for _, s := range statuses {
				q.Statuses = append(q.Statuses, models.InterestStatus(s))
			}
			return withApp(opts, func(ctx context.Context, a *app.App) error {
				if a.Reviews == nil {
					return fmt.Errorf("review queue is disabled (database.elasticsearch.enabled=false)")
				}
				res, err := a.Reviews.Search(ctx, q)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			})
		},
	}
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "statuses to include (default: awaiting review)")
	cmd.Flags().StringVar(&q.YouthID, "youth", "", "youth user id")
	cmd.Flags().StringVar(&q.ElderlyID, "elderly", "", "elderly user id")
	cmd.Flags().IntVar(&q.From, "from", 0, "offset")
	cmd.Flags().IntVar(&q.Size, "size", 20, "page size")
	return cmd
}

func watchCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "watch [user-id]",
		Short: "Print a user's relationship view every time it changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(ctx context.Context, a *app.App) error {
				s := a.NewSession(args[0])
				defer s.Close()

				out := cmd.OutOrStdout()
				snap, err := s.Refresh(ctx)
				if err != nil {
					return err
				}
				if err := printJSON(out, snap); err != nil {
					return err
				}
				h, err := s.Subscribe(func(snap session.Snapshot) { _ = printJSON(out, snap) })
				if err != nil {
					return err
				}
				defer h.Close()

				if !a.Config.Kafka.Enabled {
					fmt.Fprintln(cmd.ErrOrStderr(), "kafka is disabled; only changes made by this process are visible")
				}
				return a.Follow(ctx, "matchctl-watch-"+uuid.NewString())
			})
		},
	}
}

func tasksCmd() *cobra.Command {
	var registryPath string
	loadRegistry := func() (*registry.ActivityRegistry, error) {
		if registryPath != "" {
			return registry.LoadRegistry(registryPath)
		}
		return registry.Default()
	}

	cmd := &cobra.Command{
		Use:   "tasks",
		Short: "List the job types served by the worker manager",
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, a := range reg.Activities {
				fmt.Fprintf(out, "%-24s %-14s %-6s %s\n", a.TaskType, a.Category, a.TimeoutDuration(), strings.Join(a.ErrorCodes, ","))
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVar(&registryPath, "registry", "", "registry file (default: built in)")

	validate := &cobra.Command{
		Use:   "validate [task-type] [variables.json]",
		Short: "Check job variables against a task's input schema",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := loadRegistry()
			if err != nil {
				return err
			}
			a, ok := reg.Find(args[0])
			if !ok {
				return fmt.Errorf("unknown task type %q", args[0])
			}
			data, err := os.ReadFile(args[1])
			if err != nil {
				return err
			}
			if err := a.ValidateInput(data); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "ok")
			return nil
		},
	}
	cmd.AddCommand(validate)
	return cmd
}
