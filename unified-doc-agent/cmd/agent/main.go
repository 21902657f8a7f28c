package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/config"
	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/graph"
	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/history"
	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/indexing"
	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/ingestion"
	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/llm"
	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/logging"
	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/metrics"
	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/processing"
	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/server"
	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/storage"
	"github.com/Divas-Gupta30/agentic-rag/unified-doc-agent/internal/tools"
)

var (
	configPath string
	cfg        *config.Config
	logger     *zap.Logger
)

func main() {
	root := &cobra.Command{
		Use:           "agent",
		Short:         "Answer questions over your documents with a plan/search/critique loop",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			if cfg, err = config.Load(configPath); err != nil {
				return err
			}
			logger, err = logging.New(cfg.LogLevel, cfg.LogFormat)
			return err
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file")
	root.AddCommand(indexCmd(), queryCmd(), serveCmd(), resetCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := root.ExecuteContext(ctx)
	stop()
	if logger != nil {
		logger.Sync()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func openStore(ctx context.Context) (*storage.Store, error) {
	store, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := store.EnsureSchema(ctx, cfg.Embedding.Dim); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func indexCmd() *cobra.Command {
	var (
		path      string
		fromDrive bool
	)
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Index a local folder or a Google Drive folder",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			store, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close()

			chunker, err := processing.NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
			if err != nil {
				return err
			}
			embedder := processing.NewOllamaEmbedder(cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Embedding.Dim)
			ix := indexing.New(store, chunker, embedder, logger)

			var src ingestion.Source = ingestion.LocalSource{Root: path}
			if fromDrive {
				drive, err := ingestion.NewDriveSource(ctx, ingestion.DriveConfig{
					ClientID:     cfg.Drive.ClientID,
					ClientSecret: cfg.Drive.ClientSecret,
					AccessToken:  cfg.Drive.AccessToken,
					RefreshToken: cfg.Drive.RefreshToken,
					FolderID:     cfg.Drive.FolderID,
				}, logger)
				if err != nil {
					return err
				}
				defer drive.Close()
				src = drive
			}

			logger.Info("starting indexing", zap.String("origin", src.Origin()), zap.String("path", path))
			st, err := ix.IndexSource(ctx, src)
			if err != nil {
				return err
			}
			fmt.Printf("Indexed %d files (%d already indexed, %d failed): %d new chunks, %d duplicates skipped.\n",
				st.Files, st.SkippedFiles, st.FailedFiles, st.NewChunks, st.Duplicates)
			return nil
		},
	}
	cmd.Flags().StringVar(&path, "path", "./data", "path to folder to index")
	cmd.Flags().BoolVar(&fromDrive, "drive", false, "index the configured Google Drive folder instead")
	return cmd
}

func resetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete every indexed chunk and the ingest manifest",
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close()
			if err := store.Reset(cmd.Context()); err != nil {
				return err
			}
			fmt.Println("Index cleared.")
			return nil
		},
	}
}

// buildAgent wires the model, cached retrieval tools and the agent loop.
// The returned cleanup closes what it opened.
func buildAgent(ctx context.Context, m *metrics.Metrics) (*graph.Agent, *tools.Registry, func(), error) {
	store, err := openStore(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	cleanup := []func(){store.Close}
	closeAll := func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}

	model, err := llm.New(llm.Config{
		Provider:          cfg.LLM.Provider,
		BaseURL:           cfg.LLM.BaseURL,
		APIKey:            cfg.LLM.APIKey,
		Model:             cfg.LLM.Model,
		Temperature:       cfg.LLM.Temperature,
		RequestsPerSecond: cfg.LLM.RequestsPerSecond,
	}, logger)
	if err != nil {
		closeAll()
		return nil, nil, nil, err
	}

	embedder := processing.NewOllamaEmbedder(cfg.Embedding.BaseURL, cfg.Embedding.Model, cfg.Embedding.Dim)
	var cache tools.Cache = tools.NewMemoryCache()
	if cfg.Redis.Addr != "" {
		client, err := tools.DialRedis(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			logger.Warn("redis unavailable, caching in memory", zap.Error(err))
		} else {
			cleanup = append(cleanup, func() { client.Close() })
			cache = tools.NewRedisCache(client)
		}
	}

	var cacheObs tools.CacheObserver
	opts := []graph.Option{graph.WithMaxRetries(cfg.MaxRetries), graph.WithLogger(logger)}
	if m != nil {
		cacheObs = m
		opts = append(opts, graph.WithObserver(m))
	}
	retriever := tools.NewCachedRetriever(storage.NewRetriever(store, embedder), cache, cfg.Redis.TTL, cacheObs, logger)
	registry := tools.NewRegistry(tools.RetrievalTools(retriever, cfg.RetrievalK)...)

	return graph.New(model, registry, opts...), registry, closeAll, nil
}

func queryCmd() *cobra.Command {
	var (
		query     string
		sessionID string
	)
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Ask a question and print the cited answer",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if strings.TrimSpace(query) == "" {
				return fmt.Errorf("please provide -q \"your query\"")
			}
			ctx := cmd.Context()
			agent, _, cleanup, err := buildAgent(ctx, nil)
			if err != nil {
				return err
			}
			defer cleanup()

			var hist *history.Store
			var turns []graph.Turn
			if sessionID != "" {
				if hist, err = history.Open(ctx, cfg.HistoryDatabaseURL); err != nil {
					return err
				}
				defer hist.Close()
				if err := hist.EnsureSchema(ctx); err != nil {
					return err
				}
				msgs, err := hist.Recent(ctx, sessionID, cfg.HistoryTurns)
				if err != nil {
					return err
				}
				turns = history.Turns(msgs)
			}

			res, err := agent.Run(ctx, graph.Input{Query: query, History: turns}, printEvent())
			if err != nil {
				return err
			}

			fmt.Println("\n===== ANSWER =====")
			fmt.Println(res.Answer)
			if cites := graph.FormatCitations(res.Evidence); cites != "" {
				fmt.Println()
				fmt.Println(cites)
			}

			if hist != nil {
				if err := hist.Append(ctx, sessionID, "user", query); err != nil {
					return err
				}
				if err := hist.Append(ctx, sessionID, "assistant", res.Answer); err != nil {
					return err
				}
				if err := hist.SaveRun(ctx, sessionID, res); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&query, "query", "q", "", "query text")
	cmd.Flags().StringVar(&sessionID, "session", "", "chat session id; prior turns are used as context and the answer is saved")
	return cmd
}

// printEvent shows progress on stderr as stages complete.
func printEvent() func(graph.Event) {
	seen := 0
	return func(ev graph.Event) {
		st := ev.State
		for _, line := range st.Trace[seen:] {
			fmt.Fprintln(os.Stderr, "  "+line)
		}
		seen = len(st.Trace)
		switch ev.Stage {
		case graph.StagePlanner:
			fmt.Fprintf(os.Stderr, "Plan: %s\n", strings.Join(st.Subquestions, " | "))
		case graph.StageCritic:
			fmt.Fprintf(os.Stderr, "Critic: %s %s\n", st.CriticStatus, st.CriticNotes)
		case graph.StageIncrementRetry:
			fmt.Fprintf(os.Stderr, "Retry %d\n", st.RetryCount)
		}
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the agent over HTTP",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
			m := metrics.New(reg)

			agent, registry, cleanup, err := buildAgent(ctx, m)
			if err != nil {
				return err
			}
			defer cleanup()

			hist, err := history.Open(ctx, cfg.HistoryDatabaseURL)
			if err != nil {
				return err
			}
			defer hist.Close()
			if err := hist.EnsureSchema(ctx); err != nil {
				return err
			}

			srv := server.New(agent, registry, hist,
				server.WithLogger(logger),
				server.WithMetrics(m, reg),
				server.WithHistoryTurns(cfg.HistoryTurns))
			return srv.ListenAndServe(ctx, cfg.ServerAddr)
		},
	}
}
