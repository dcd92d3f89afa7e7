// Package main is the entry point for the Stride CLI. Stride is the
// coaching core behind the fitness assistant: it routes each message,
// builds the persona prompt, generates a response with provider fallback,
// and executes coaching functions against the local database.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/normanking/stride/internal/cache"
	"github.com/normanking/stride/internal/config"
	"github.com/normanking/stride/internal/dispatch"
	"github.com/normanking/stride/internal/domain"
	"github.com/normanking/stride/internal/engine"
	"github.com/normanking/stride/internal/llm"
	"github.com/normanking/stride/internal/logging"
	"github.com/normanking/stride/internal/persona"
	"github.com/normanking/stride/internal/router"
	"github.com/normanking/stride/internal/store"
)

var (
	version = "0.1.0"
	cfgPath string
	userID  string
	convID  string
	mode    string
	verbose bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "stride",
		Short: "Stride - AI fitness coaching core",
		Long: `Stride is the orchestration core of an AI fitness coach. It routes
each message to the cheapest strategy that can handle it, adapts the
coach's persona to your recovery state, and falls back across model
providers so a single outage never silences the coach.

Chat one-shot:    stride chat "log 2 eggs and toast"
Conversation:     stride stats
Trim history:     stride prune --keep 10`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.stride/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "local", "user id for data scoping")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Stride v%s\n", version)
		},
	})

	rootCmd.AddCommand(chatCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(pruneCmd())
	rootCmd.AddCommand(cacheCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app holds the wired pipeline for one command invocation.
type app struct {
	cfg    *config.Config
	store  *store.Store
	engine *engine.Engine
	cache  *cache.ResponseCache
}

// newApp loads configuration and wires every component.
func newApp() (*app, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgPath != "" {
		cfg, err = config.LoadFromPath(cfgPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
	logging.Setup(cfg.Logging.Level, nil)

	st, err := store.NewDB(cfg.Store.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	var rc *cache.ResponseCache
	if cfg.Cache.Enabled {
		rc, err = cache.New(cfg.Cache.MemorySize, cfg.Cache.DefaultTTL, st,
			cache.WithLogger(logging.Component("cache")))
		if err != nil {
			st.Close()
			return nil, fmt.Errorf("create cache: %w", err)
		}
	}

	rt := router.New(cfg.Routing, router.WithLogger(logging.Component("router")))

	pe, err := persona.NewEngine(cfg.Persona, persona.WithLogger(logging.Component("persona")))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create persona engine: %w", err)
	}

	svc := domain.NewService(st, domain.WithLogger(logging.Component("domain")))
	d := dispatch.New(cfg.Dispatch.Timeout, dispatch.WithLogger(logging.Component("dispatch")))
	if err := domain.RegisterFunctions(d, svc); err != nil {
		st.Close()
		return nil, fmt.Errorf("register functions: %w", err)
	}

	providers, err := llm.NewProviders(cfg.LLM, logging.Component("llm"))
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("create providers: %w", err)
	}
	orch := llm.NewOrchestrator(cfg.LLM, providers, llm.WithLogger(logging.Component("llm")))

	eng := engine.New(cfg, rt, pe, rc, d, orch, st, svc,
		engine.WithLogger(logging.Component("engine")))

	return &app{cfg: cfg, store: st, engine: eng, cache: rc}, nil
}

func (a *app) close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: close store: %v\n", err)
	}
}

// signalContext returns a context cancelled on SIGINT/SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func chatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat <message>",
		Short: "Send one message to the coach",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext()
			defer cancel()

			message := ""
			for i, arg := range args {
				if i > 0 {
					message += " "
				}
				message += arg
			}

			result, err := a.engine.ProcessTurn(ctx, engine.TurnInput{
				UserID:         userID,
				ConversationID: convID,
				Message:        message,
				Mode:           persona.Mode(mode),
			})
			if err != nil {
				return err
			}

			fmt.Println(result.Reply)
			if verbose {
				fmt.Fprintf(os.Stderr, "route=%s provider=%s tokens=%d cached=%t cost=$%.4f\n",
					result.Route, result.Provider, result.Tokens, result.Cached, result.CostUSD)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&convID, "conversation", "default", "conversation id")
	cmd.Flags().StringVar(&mode, "mode", "", "persona mode (trainer, supporter, analyst, minimalist)")
	return cmd
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show pipeline and conversation statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext()
			defer cancel()

			ids, err := a.store.ConversationIDs(ctx, userID)
			if err != nil {
				return err
			}
			for _, id := range ids {
				stats, err := a.store.Stats(ctx, userID, id)
				if err != nil {
					return err
				}
				fmt.Printf("%s: %d messages, %d tokens, $%.4f estimated\n",
					id, stats.TotalMessages, stats.TotalTokens, stats.EstimatedCost)
			}
			if len(ids) == 0 {
				fmt.Println("No conversations yet.")
			}

			out, err := a.engine.MarshalStats()
			if err != nil {
				return err
			}
			fmt.Println(out)
			return nil
		},
	}
}

func pruneCmd() *cobra.Command {
	var keep int
	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete all but the most recent conversations",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext()
			defer cancel()

			deleted, err := a.store.PruneOldConversations(ctx, userID, keep)
			if err != nil {
				return err
			}
			fmt.Printf("Pruned %d messages.\n", deleted)
			return nil
		},
	}
	cmd.Flags().IntVar(&keep, "keep", 10, "number of recent conversations to keep")
	return cmd
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the response cache",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "invalidate <tag>",
		Short: "Purge cached responses by tag (e.g. 'responses' or 'user:<id>')",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			if a.cache == nil {
				return fmt.Errorf("cache is disabled in config")
			}

			ctx, cancel := signalContext()
			defer cancel()

			n, err := a.cache.InvalidateTag(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Invalidated %d persistent entries.\n", n)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "expire",
		Short: "Delete expired entries from the persistent cache tier",
		RunE: func(c *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			defer a.close()

			ctx, cancel := signalContext()
			defer cancel()

			n, err := a.store.DeleteExpiredCache(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d expired entries.\n", n)
			return nil
		},
	})

	return cmd
}
