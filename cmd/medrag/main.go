// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/poiesic/medrag"
	"github.com/poiesic/medrag/ai"
	"github.com/poiesic/medrag/ingestion"
	"github.com/poiesic/medrag/orchestrator"
	"github.com/poiesic/medrag/websearch"
	"github.com/urfave/cli/v2"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:     "medrag",
		Usage:    "Answer medical questions with retrieval, web search and reflection",
		Flags:    globalFlags(),
		Before:   setupLogger,
		Commands: []*cli.Command{askCommand(), chatCommand(), indexKnowledgeCommand(), indexIntentsCommand(), healthCommand()},
	}
}

func globalFlags() []cli.Flag {
	aiDefaults := ai.DefaultConfig()
	webDefaults := websearch.DefaultConfig()
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "log-level",
			Aliases: []string{"l"},
			Usage:   "Set logging level (debug, info, warn, error)",
			Value:   "info",
			EnvVars: []string{"MEDRAG_LOG_LEVEL"},
		},
		&cli.StringFlag{
			Name:    "embedding-host",
			Usage:   "Embedding service host URL",
			Value:   aiDefaults.EmbeddingHost,
			EnvVars: []string{"MEDRAG_EMBEDDING_HOST"},
		},
		&cli.StringFlag{
			Name:    "generator-host",
			Usage:   "Generation service host URL",
			Value:   aiDefaults.GeneratorHost,
			EnvVars: []string{"MEDRAG_GENERATOR_HOST"},
		},
		&cli.StringFlag{
			Name:    "embedding-model",
			Usage:   "Embedding model name",
			Value:   aiDefaults.EmbeddingModel,
			EnvVars: []string{"MEDRAG_EMBEDDING_MODEL"},
		},
		&cli.StringFlag{
			Name:    "generator-model",
			Usage:   "Generation model name",
			Value:   aiDefaults.GeneratorModel,
			EnvVars: []string{"MEDRAG_GENERATOR_MODEL"},
		},
		&cli.StringFlag{
			Name:    "judge-model",
			Usage:   "Relevance judge model name (defaults to the generation model)",
			EnvVars: []string{"MEDRAG_JUDGE_MODEL"},
		},
		&cli.StringFlag{
			Name:    "api-token",
			Usage:   "API token for the AI services",
			Value:   aiDefaults.Token,
			EnvVars: []string{"MEDRAG_API_TOKEN", "OPENAI_API_KEY"},
		},
		&cli.DurationFlag{
			Name:    "request-timeout",
			Usage:   "Timeout for a single generation call",
			Value:   aiDefaults.RequestTimeout,
			EnvVars: []string{"MEDRAG_REQUEST_TIMEOUT"},
		},
		&cli.StringFlag{
			Name:    "index-backend",
			Usage:   "Knowledge and intent index backend (badger, milvus)",
			Value:   medrag.BackendBadger,
			EnvVars: []string{"MEDRAG_INDEX_BACKEND"},
		},
		&cli.StringFlag{
			Name:    "conversation-backend",
			Usage:   "Conversation store backend (badger, postgres)",
			Value:   medrag.BackendBadger,
			EnvVars: []string{"MEDRAG_CONVERSATION_BACKEND"},
		},
		&cli.StringFlag{
			Name:    "db",
			Aliases: []string{"d"},
			Usage:   "Path to BadgerDB database directory (empty keeps data in memory)",
			EnvVars: []string{"MEDRAG_DB"},
		},
		&cli.StringFlag{
			Name:    "milvus-addr",
			Usage:   "Milvus address (host:port)",
			Value:   "localhost:19530",
			EnvVars: []string{"MEDRAG_MILVUS_ADDR"},
		},
		&cli.StringFlag{
			Name:    "milvus-user",
			Usage:   "Milvus username",
			EnvVars: []string{"MEDRAG_MILVUS_USER"},
		},
		&cli.StringFlag{
			Name:    "milvus-password",
			Usage:   "Milvus password",
			EnvVars: []string{"MEDRAG_MILVUS_PASSWORD"},
		},
		&cli.IntFlag{
			Name:    "embedding-dim",
			Usage:   "Embedding dimension for Milvus collections (0 detects it from the embedder)",
			EnvVars: []string{"MEDRAG_EMBEDDING_DIM"},
		},
		&cli.StringFlag{
			Name:    "postgres-dsn",
			Usage:   "PostgreSQL connection string for the conversation store",
			EnvVars: []string{"MEDRAG_POSTGRES_DSN"},
		},
		&cli.IntFlag{
			Name:    "max-retries",
			Usage:   "Maximum follow-up retrieval passes per query",
			Value:   orchestrator.DefaultMaxRetries,
			EnvVars: []string{"MEDRAG_MAX_RETRIES", "MAX_RETRY_REFLECTION"},
		},
		&cli.DurationFlag{
			Name:    "step-timeout",
			Usage:   "Timeout for a single state machine step",
			Value:   orchestrator.DefaultStepTimeout,
			EnvVars: []string{"MEDRAG_STEP_TIMEOUT"},
		},
		&cli.StringFlag{
			Name:    "allowed-domains",
			Usage:   "Comma-separated domains web results must come from (empty allows all)",
			EnvVars: []string{"MEDRAG_ALLOWED_DOMAINS", "ALLOWED_DOMAINS"},
		},
		&cli.IntFlag{
			Name:    "max-search-results",
			Usage:   "Maximum web pages fetched per search",
			Value:   webDefaults.MaxResults,
			EnvVars: []string{"MEDRAG_MAX_SEARCH_RESULTS", "MAX_SEARCH_RESULTS"},
		},
		&cli.DurationFlag{
			Name:    "fetch-timeout",
			Usage:   "Timeout for fetching one web page",
			Value:   webDefaults.FetchTimeout,
			EnvVars: []string{"MEDRAG_FETCH_TIMEOUT"},
		},
		&cli.BoolFlag{
			Name:    "no-web",
			Usage:   "Disable the web search path",
			EnvVars: []string{"MEDRAG_NO_WEB"},
		},
	}
}

func askCommand() *cli.Command {
	return &cli.Command{
		Name:      "ask",
		Usage:     "Answer a single question and print the result as JSON",
		ArgsUsage: "<question>",
		Flags:     conversationFlags(),
		Action: func(c *cli.Context) error {
			query := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
			if query == "" {
				return errors.New("a question is required")
			}
			return withEngine(c, func(ctx context.Context, engine *medrag.Engine) error {
				result, err := engine.Answer(ctx, query, c.String("user"), c.String("conversation"))
				if err != nil {
					return err
				}
				return printJSON(c.App.Writer, result)
			})
		},
	}
}

func chatCommand() *cli.Command {
	return &cli.Command{
		Name:  "chat",
		Usage: "Read questions from stdin, one per line, and print each answer",
		Flags: conversationFlags(),
		Action: func(c *cli.Context) error {
			return withEngine(c, func(ctx context.Context, engine *medrag.Engine) error {
				return chatLoop(ctx, engine, c.App.Reader, c.App.Writer, c.String("user"), c.String("conversation"))
			})
		},
	}
}

func indexKnowledgeCommand() *cli.Command {
	return &cli.Command{
		Name:  "index-knowledge",
		Usage: "Embed and index a knowledge base CSV",
		Flags: []cli.Flag{csvFlag()},
		Action: func(c *cli.Context) error {
			return indexFile(c, (*medrag.Engine).IndexKnowledge)
		},
	}
}

func indexIntentsCommand() *cli.Command {
	return &cli.Command{
		Name:  "index-intents",
		Usage: "Embed and index an intent reference CSV (query, label)",
		Flags: []cli.Flag{csvFlag()},
		Action: func(c *cli.Context) error {
			return indexFile(c, (*medrag.Engine).IndexIntents)
		},
	}
}

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check the configured storage backends",
		Action: func(c *cli.Context) error {
			return withEngine(c, func(ctx context.Context, engine *medrag.Engine) error {
				if err := engine.Health(ctx); err != nil {
					return err
				}
				fmt.Fprintln(c.App.Writer, "ok")
				return nil
			})
		},
	}
}

func conversationFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "user",
			Aliases: []string{"u"},
			Usage:   "User ID",
			Value:   "local",
			EnvVars: []string{"MEDRAG_USER"},
		},
		&cli.StringFlag{
			Name:    "conversation",
			Aliases: []string{"c"},
			Usage:   "Conversation ID",
			Value:   "default",
			EnvVars: []string{"MEDRAG_CONVERSATION"},
		},
	}
}

func csvFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "csv",
		Usage:    "Path to the CSV file",
		Required: true,
	}
}

// configFromContext maps the global flags onto an engine Config.
func configFromContext(c *cli.Context) medrag.Config {
	cfg := medrag.DefaultConfig()
	cfg.AI = ai.NewConfig(
		ai.WithEmbeddingHost(c.String("embedding-host")),
		ai.WithGeneratorHost(c.String("generator-host")),
		ai.WithEmbeddingModel(c.String("embedding-model")),
		ai.WithGeneratorModel(c.String("generator-model")),
		ai.WithJudgeModel(c.String("judge-model")),
		ai.WithToken(c.String("api-token")),
		ai.WithRequestTimeout(c.Duration("request-timeout")),
	)
	cfg.IndexBackend = c.String("index-backend")
	cfg.ConversationBackend = c.String("conversation-backend")
	cfg.DataDir = c.String("db")
	cfg.MilvusAddress = c.String("milvus-addr")
	cfg.MilvusUsername = c.String("milvus-user")
	cfg.MilvusPassword = c.String("milvus-password")
	cfg.EmbeddingDimension = c.Int("embedding-dim")
	cfg.PostgresDSN = c.String("postgres-dsn")
	cfg.MaxRetries = c.Int("max-retries")
	cfg.StepTimeout = c.Duration("step-timeout")
	cfg.DisableWeb = c.Bool("no-web")
	cfg.Web.AllowedDomains = websearch.ParseDomains(c.String("allowed-domains"))
	cfg.Web.MaxResults = c.Int("max-search-results")
	cfg.Web.FetchTimeout = c.Duration("fetch-timeout")
	return cfg
}

// withEngine opens an engine for the duration of fn and cancels the context
// on SIGINT or SIGTERM.
func withEngine(c *cli.Context, fn func(ctx context.Context, engine *medrag.Engine) error) error {
	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := medrag.Open(ctx, configFromContext(c))
	if err != nil {
		return fmt.Errorf("failed to open engine: %w", err)
	}
	defer func() {
		if err := engine.Close(); err != nil {
			slog.Error("error closing engine", "err", err)
		}
	}()
	return fn(ctx, engine)
}

func indexFile(c *cli.Context, index func(*medrag.Engine, context.Context, io.Reader) (ingestion.Stats, error)) error {
	path := c.String("csv")
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return withEngine(c, func(ctx context.Context, engine *medrag.Engine) error {
		started := time.Now()
		stats, err := index(engine, ctx, f)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "rows=%d skipped=%d records=%d indexed=%d failed=%d elapsed=%s\n",
			stats.Rows, stats.Skipped, stats.Chunks, stats.Indexed, stats.Failed, time.Since(started).Round(time.Millisecond))
		return nil
	})
}

// answerer is the part of the engine the chat loop needs.
type answerer interface {
	Answer(ctx context.Context, query, userID, conversationID string) (*medrag.Result, error)
}

// chatLoop answers each non-blank input line until EOF or cancellation.
func chatLoop(ctx context.Context, engine answerer, in io.Reader, out io.Writer, userID, conversationID string) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" || line == "/exit" {
			return nil
		}
		result, err := engine.Answer(ctx, line, userID, conversationID)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "%s\n\n", result.Answer)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
}

func printJSON(w io.Writer, result *medrag.Result) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Intent     string `json:"intent"`
		Answer     string `json:"answer"`
		Turn       uint64 `json:"turn"`
		Iterations int    `json:"iterations"`
	}{string(result.Intent), result.Answer, result.Turn, result.Iterations})
}

func setupLogger(c *cli.Context) error {
	levelStr := strings.ToLower(c.String("log-level"))

	var level slog.Level
	switch levelStr {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return fmt.Errorf("invalid log level %q: must be one of debug, info, warn, error", levelStr)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	return nil
}
