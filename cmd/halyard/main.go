// Halyard is a conversational AI agent for the terminal.
//
// It drives a reason-act loop over any OpenAI-compatible chat
// completions endpoint, keeps durable session history in SQLite (and
// optionally Redis), and archives oversized tool output out of the
// live conversation automatically. Configuration is loaded from a
// single YAML file discovered automatically (see
// [config.DefaultSearchPaths]).
//
// Usage:
//
//	halyard chat             Start an interactive conversation
//	halyard ask <question>   Ask a single question
//	halyard clean [-days N]  Reap archived messages not accessed in N days (default 30)
//	halyard version          Print version and build information
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/halyardai/halyard/internal/agent"
	"github.com/halyardai/halyard/internal/buildinfo"
	"github.com/halyardai/halyard/internal/config"
	"github.com/halyardai/halyard/internal/history"
	"github.com/halyardai/halyard/internal/llm"
	"github.com/halyardai/halyard/internal/prompt"
	"github.com/halyardai/halyard/internal/tools"
	"github.com/halyardai/halyard/internal/usage"

	_ "github.com/mattn/go-sqlite3" // SQLite driver for database/sql
)

// main is intentionally minimal. It constructs the OS-level
// environment (context, stdio, argv) and delegates to [run], keeping
// os.Exit and os.Args out of the application logic so the full
// lifecycle can be driven from tests.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run is the real entry point. Arguments are parsed by hand: the flag
// package relies on package-level globals, and our surface is small
// enough that manual parsing is clearer than a CLI framework.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var outputFmt string
	var command string
	var cmdArgs []string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case (args[i] == "-o" || args[i] == "--output") && i+1 < len(args):
			outputFmt = args[i+1]
			i++
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			if command != "" {
				cmdArgs = append(cmdArgs, args[i])
			} else {
				return fmt.Errorf("unknown flag %q (see -help)", args[i])
			}
		}
	}

	if command == "" || command == "help" {
		return printUsage(stdout)
	}

	if command == "version" {
		if outputFmt == "json" {
			return json.NewEncoder(stdout).Encode(buildinfo.Info())
		}
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	}

	// .env is optional; a missing file is not an error.
	_ = godotenv.Load()

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config %s: %w", cfgPath, err)
	}

	logger, lvlErr := config.NewLogger(stdout, cfg.LogLevel)
	slog.SetDefault(logger)
	if lvlErr != nil {
		logger.Warn("bad log level, using info", "error", lvlErr)
	}
	logger.Info("starting", "build", buildinfo.String(), "config", cfgPath)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	switch command {
	case "chat":
		return app.repl(ctx, stdout)
	case "ask":
		if len(cmdArgs) == 0 {
			return fmt.Errorf("usage: halyard ask <question>")
		}
		return app.ask(ctx, stdout, strings.Join(cmdArgs, " "))
	case "clean":
		days := 30
		for i := 0; i < len(cmdArgs); i++ {
			if cmdArgs[i] == "-days" && i+1 < len(cmdArgs) {
				if n, err := strconv.Atoi(cmdArgs[i+1]); err == nil {
					days = n
				}
				i++
			}
		}
		n, err := app.store.CleanMessages(ctx, time.Duration(days)*24*time.Hour)
		if err != nil {
			return fmt.Errorf("clean messages: %w", err)
		}
		fmt.Fprintf(stdout, "removed %d archived messages\n", n)
		return nil
	default:
		return fmt.Errorf("unknown command %q (see -help)", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprint(w, `halyard - a conversational AI agent

Usage:
  halyard [flags] <command> [args]

Commands:
  chat             Start an interactive conversation
  ask <question>   Ask a single question
  clean [-days N]  Reap archived messages not accessed in N days (default 30)
  version          Print version and build information

Flags:
  -config <path>   Explicit config file path
  -o json          JSON output (version)
  -help            Show this help
`)
	return nil
}

// app holds the wired runtime for the chat and ask commands.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	db       *sql.DB
	store    history.Store
	sessions *history.Sessions
	stat     *usage.Stat
	registry *tools.Registry
	pctx     *prompt.Context
	loop     *agent.Loop
}

func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, fmt.Errorf("no endpoints configured")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	dbPath := cfg.History.SQLitePath
	if dbPath == "" {
		dbPath = filepath.Join(cfg.DataDir, "halyard.db")
	}
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlStore, err := history.NewSQLStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	backends := []history.Store{sqlStore}

	if cfg.History.RedisAddr != "" {
		redisStore, err := history.OpenRedis(ctx, cfg.History.RedisAddr, cfg.History.RedisDB)
		if err != nil {
			logger.Warn("redis history backend unavailable", "error", err)
		} else {
			backends = append(backends, redisStore)
		}
	}
	store, err := history.NewMulti(backends...)
	if err != nil {
		db.Close()
		return nil, err
	}

	sessions, err := history.NewSessions(db)
	if err != nil {
		db.Close()
		return nil, err
	}
	usageStore, err := usage.NewStore(db)
	if err != nil {
		db.Close()
		return nil, err
	}

	registry := tools.NewRegistry()
	tools.RegisterRetrieve(registry, store)
	tools.RegisterTaskComplete(registry)
	tools.RegisterFiles(registry, cfg.Workspace.Path)
	shellCfg := tools.DefaultShellConfig()
	shellCfg.Enabled = cfg.ShellExec.Enabled
	if cfg.ShellExec.WorkingDir != "" {
		shellCfg.WorkingDir = cfg.ShellExec.WorkingDir
	}
	if len(cfg.ShellExec.DeniedPatterns) > 0 {
		shellCfg.DeniedPatterns = append(shellCfg.DeniedPatterns, cfg.ShellExec.DeniedPatterns...)
	}
	if cfg.ShellExec.DefaultTimeoutSec > 0 {
		shellCfg.DefaultTimeout = time.Duration(cfg.ShellExec.DefaultTimeoutSec) * time.Second
	}
	tools.RegisterShell(registry, shellCfg)

	systemPrompt := resolvePromptText(cfg.Agent.SystemPrompt)
	promptOpts := []prompt.Option{
		prompt.WithLogger(logger),
		prompt.WithEnvExtra(cfg.Context.EnvPrompt),
		prompt.WithThreshold(prompt.Threshold{
			TokenMax:   cfg.Context.TokenMax,
			TokenRatio: cfg.Context.TokenRatio,
			SlimLength: cfg.Context.SlimLength,
		}),
	}
	if !cfg.LLM.NativeToolCalls {
		promptOpts = append(promptOpts, prompt.WithToolPrompt(registry.Prompt()))
	}
	pctx, err := prompt.New(systemPrompt, promptOpts...)
	if err != nil {
		db.Close()
		return nil, err
	}

	archiver := history.NewArchiver(store, logger)
	if cfg.Context.ArchiveMaxSize > 0 {
		archiver.MaxSize = cfg.Context.ArchiveMaxSize
	}
	pctx.SetSlimmer(archiver)

	pctx.OnNewSession("session-store", func(hctx context.Context, c *prompt.Context) error {
		id, err := sessions.Create(hctx, c.Task())
		if err != nil {
			return err
		}
		c.BindSession(id)
		logger.Info("session started", "session_id", id)
		return nil
	})
	pctx.OnAppend("history-store", func(hctx context.Context, sessionID string, msg llm.Message) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		_, err = store.AddMessage(hctx, sessionID, string(data))
		return err
	})

	stat := usage.NewStat(time.Hour, logger)

	endpoints := make([]llm.Endpoint, len(cfg.Endpoints))
	for i, ep := range cfg.Endpoints {
		endpoints[i] = llm.Endpoint{APIKey: ep.APIKey, BaseURL: ep.BaseURL}
	}
	modelOpts := []llm.Option{
		llm.WithLogger(logger),
		llm.WithStat(stat),
		llm.WithUsageStore(usageStore),
		llm.WithRetryTimes(cfg.LLM.RetryTimes),
	}
	if cfg.LLM.NativeToolCalls {
		modelOpts = append(modelOpts, llm.WithTools(registry.List()))
	}
	model, err := llm.New(llm.Params{
		Model:            cfg.LLM.Model,
		MaxTokens:        cfg.LLM.MaxTokens,
		Temperature:      cfg.LLM.Temperature,
		TopP:             cfg.LLM.TopP,
		FrequencyPenalty: cfg.LLM.FrequencyPenalty,
		Stream:           cfg.LLM.Stream,
		NativeToolCalls:  cfg.LLM.NativeToolCalls,
	}, endpoints, modelOpts...)
	if err != nil {
		db.Close()
		return nil, err
	}

	loop := &agent.Loop{
		Ctx:           pctx,
		Model:         model,
		Call:          &agent.ReActCall{Registry: registry, Logger: logger},
		Logger:        logger,
		MaxIterations: cfg.Agent.MaxIterations,
	}

	logger.Info("agent ready",
		"agent", cfg.Agent.Name,
		"model", cfg.LLM.Model,
		"tools", registry.Names())

	return &app{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		store:    store,
		sessions: sessions,
		stat:     stat,
		registry: registry,
		pctx:     pctx,
		loop:     loop,
	}, nil
}

func (a *app) Close() {
	a.stat.Stop()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("close history store", "error", err)
	}
}

func (a *app) ask(ctx context.Context, stdout io.Writer, question string) error {
	rc := agent.NewRunContext(a.cfg.Agent.Name, a.cfg.Agent.MaxCallDepth)
	answer, err := a.loop.Run(ctx, rc, question)
	if err != nil {
		return err
	}
	if answer == "" {
		fmt.Fprintln(stdout, "(no answer; see logs)")
		return nil
	}
	fmt.Fprintln(stdout, renderMarkdown(answer))
	return nil
}

// resolvePromptText treats the value as a file path when one exists,
// otherwise as inline text.
func resolvePromptText(v string) string {
	if info, err := os.Stat(v); err == nil && !info.IsDir() {
		if data, err := os.ReadFile(v); err == nil {
			return strings.TrimSpace(string(data))
		}
	}
	return v
}
