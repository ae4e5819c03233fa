// Command novelctl is the library-consumer entry point for the analysis
// pipeline's five boundary operations (spec.md §6): start/pause/resume/
// cancel, process_chapter (folded into the analyze loop), and
// consolidate_hierarchy. The command-tree shape -- one root command,
// PersistentFlags bound through viper, subcommands built with RunE
// closures -- is adapted from the donor's cmd/alex cobra root wiring,
// scaled down to this module's narrower operation set.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"novelpipe/internal/broadcast"
	"novelpipe/internal/config"
	"novelpipe/internal/domain"
	"novelpipe/internal/extract"
	"novelpipe/internal/hierarchy"
	"novelpipe/internal/llm"
	"novelpipe/internal/logging"
	"novelpipe/internal/observability"
	"novelpipe/internal/service"
	"novelpipe/internal/store"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile string
	cfg     config.RuntimeConfig
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "novelctl",
		Short: "Drive the novel world-structure analysis pipeline",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			loaded, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			cfg = loaded
			logging.SetConfig(logging.Config{Level: parseLevel(cfg.LogLevel), JSONFormat: cfg.LogJSON})
			return nil
		},
	}

	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	viper.BindPFlag("config", root.PersistentFlags().Lookup("config"))

	root.AddCommand(
		newAnalyzeCommand(),
		newPauseCommand(),
		newResumeCommand(),
		newCancelCommand(),
		newRescanEntitiesCommand(),
		newConsolidateCommand(),
	)
	return root
}

func parseLevel(s string) logging.Level {
	switch strings.ToLower(s) {
	case "debug":
		return logging.LevelDebug
	case "warn":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

// openStore opens the configured sqlite file.
func openStore() (*store.Store, error) {
	return store.Open(cfg.DBPath())
}

// buildService wires an AnalysisService from the resolved RuntimeConfig:
// a factory-built LLM client for extraction, the cloud semaphore wrapper
// applied when the provider isn't local, and an always-enabled metrics
// collector.
func buildService(st *store.Store) (*service.AnalysisService, error) {
	factory := llm.NewFactory()
	client, err := factory.GetClient(cfg.Primary.Provider, cfg.Primary.Model, llm.Config{
		APIKey:  cfg.Primary.APIKey,
		BaseURL: cfg.Primary.BaseURL,
	})
	if err != nil {
		return nil, fmt.Errorf("novelctl: build llm client: %w", err)
	}

	extractor := &extract.ChapterFactExtractor{Client: client, Model: cfg.Primary.Model}
	hub := broadcast.NewHub()

	svc := service.NewAnalysisService(st, extractor, client, hub, cfg.ContextBudgetChars)
	metrics, err := observability.NewMetricsCollector(observability.MetricsConfig{Enabled: true})
	if err != nil {
		return nil, fmt.Errorf("novelctl: metrics: %w", err)
	}
	svc.Metrics = metrics
	return svc, nil
}

func newAnalyzeCommand() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "analyze <novel-id>",
		Short: "Start (or continue) analysis for a novel and wait for it to finish",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			novelID := args[0]
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			svc, err := buildService(st)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			sub := svc.Hub.Subscribe(64)
			defer svc.Hub.Unsubscribe(sub)

			task, err := svc.StartAnalysis(ctx, novelID, service.StartOptions{Force: force})
			if err != nil {
				return err
			}
			fmt.Printf("started task %s for novel %s (%d chapters)\n", task.ID, novelID, task.TotalChapters)

			return watchTask(ctx, svc, task.ID, sub)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "reprocess chapters that already have a persisted fact")
	return cmd
}

// watchTask prints progress events until the task reaches a terminal
// status or the context is cancelled.
func watchTask(ctx context.Context, svc *service.AnalysisService, taskID string, events chan broadcast.Event) error {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			if ev.TaskID != "" && ev.TaskID != taskID {
				continue
			}
			printEvent(ev)
		case <-time.After(2 * time.Second):
			task, err := svc.Store.GetTask(taskID)
			if err != nil {
				return err
			}
			if isTerminal(task.Status) {
				if task.Status == domain.TaskFailed {
					return fmt.Errorf("task %s failed: %s", taskID, task.Error)
				}
				fmt.Printf("task %s finished: %s\n", taskID, task.Status)
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func isTerminal(s domain.TaskStatus) bool {
	return s == domain.TaskCompleted || s == domain.TaskFailed || s == domain.TaskCancelled
}

func printEvent(ev broadcast.Event) {
	switch ev.Type {
	case broadcast.EventChapterDone:
		fmt.Printf("chapter %d/%d %s\n", ev.Done, ev.Total, ev.Status)
	case broadcast.EventTaskStatus:
		fmt.Printf("task status: %s\n", ev.Status)
	}
}

func newPauseCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <task-id>",
		Short: "Pause a running task; the in-flight chapter still completes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			svc, err := buildService(st)
			if err != nil {
				return err
			}
			return svc.Pause(args[0])
		},
	}
}

func newResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <task-id>",
		Short: "Resume a paused task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			svc, err := buildService(st)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if err := svc.Resume(ctx, args[0]); err != nil {
				return err
			}
			sub := svc.Hub.Subscribe(64)
			defer svc.Hub.Unsubscribe(sub)
			return watchTask(ctx, svc, args[0], sub)
		},
	}
}

func newCancelCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <task-id>",
		Short: "Cancel a running or paused task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()
			svc, err := buildService(st)
			if err != nil {
				return err
			}
			return svc.Cancel(args[0])
		},
	}
}

func newRescanEntitiesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "rescan-entities <novel-id>",
		Short: "Rebuild the entity dictionary from stored chapter text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			novelID := args[0]
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			factory := llm.NewFactory()
			client, err := factory.GetClient(cfg.PreScan.Provider, cfg.PreScan.Model, llm.Config{
				APIKey: cfg.PreScan.APIKey, BaseURL: cfg.PreScan.BaseURL,
			})
			if err != nil {
				return err
			}

			maxChapter, err := st.MaxChapterNum(novelID)
			if err != nil {
				return err
			}

			var allText strings.Builder
			for ch := 1; ch <= maxChapter; ch++ {
				text, err := st.GetChapter(novelID, ch)
				if err != nil {
					continue
				}
				allText.WriteString(text)
				allText.WriteString("\n")
			}

			candidates := extract.ScanPhase1(cmd.Context(), allText.String())
			entries := extract.ClassifyPhase2(cmd.Context(), client, candidates)
			for _, e := range entries {
				e.NovelID = novelID
				if err := st.UpsertEntity(novelID, e); err != nil {
					return err
				}
			}
			fmt.Printf("rescanned %d entities for novel %s\n", len(entries), novelID)
			return nil
		},
	}
}

func newConsolidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "consolidate <novel-id>",
		Short: "Run the hierarchy consolidator over the novel's current world structure",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			novelID := args[0]
			st, err := openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			svc, err := buildService(st)
			if err != nil {
				return err
			}

			votes := domain.NewParentVote()
			if err := svc.ConsolidateHierarchy(cmd.Context(), novelID, votes, []hierarchy.SynonymPair{}); err != nil {
				return err
			}
			fmt.Printf("consolidated hierarchy for novel %s\n", novelID)
			return nil
		},
	}
}
