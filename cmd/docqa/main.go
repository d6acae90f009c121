package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v3"

	"docqa/internal/document"
	"docqa/internal/logger"
	"docqa/internal/metrics"
	"docqa/internal/service"
	"docqa/internal/tui"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newCommand().Run(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newCommand() *cli.Command {
	return &cli.Command{
		Name:  "docqa",
		Usage: "ask questions about a document and see where the answer comes from",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Usage: "path to YAML config file (default ./config.yaml or ~/.config/docqa/config.yaml)",
			},
			&cli.StringFlag{
				Name:  "env",
				Usage: "environment file",
				Value: ".env",
			},
		},
		Commands: []*cli.Command{
			{
				Name:      "index",
				Usage:     "index a document into a new session",
				ArgsUsage: "<file>",
				Action:    indexAction,
			},
			{
				Name:      "ask",
				Usage:     "answer a question against an indexed document",
				ArgsUsage: "<question>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "session", Usage: "session id printed by index", Required: true},
					&cli.StringFlag{Name: "file", Usage: "the indexed document", Required: true},
				},
				Action: askAction,
			},
			{
				Name:      "view",
				Usage:     "index a document and browse it in the terminal viewer",
				ArgsUsage: "<file>",
				Action:    viewAction,
			},
			{
				Name:  "sweep",
				Usage: "remove expired and forgotten sessions",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "watch", Usage: "keep sweeping on an interval"},
					&cli.DurationFlag{Name: "interval", Usage: "sweep interval with --watch", Value: 5 * time.Minute},
				},
				Action: sweepAction,
			},
			{
				Name:  "forget",
				Usage: "mark a session for deletion by the next sweep",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "session", Required: true},
				},
				Action: forgetAction,
			},
		},
	}
}

// setup loads the environment and config and assembles the components.
func setup(ctx context.Context, cmd *cli.Command) (*app, error) {
	_ = godotenv.Load(cmd.String("env"))
	cfg, err := loadConfig(cmd.String("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	return newApp(ctx, cfg)
}

func fileArg(cmd *cli.Command) (string, error) {
	if cmd.Args().Len() != 1 {
		return "", fmt.Errorf("expected exactly one file argument")
	}
	return cmd.Args().First(), nil
}

func indexAction(ctx context.Context, cmd *cli.Command) error {
	path, err := fileArg(cmd)
	if err != nil {
		return err
	}
	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	src, err := document.Load(path)
	if err != nil {
		return err
	}
	id, mapping, err := a.indexer.CreateIndexFor(ctx, src)
	if err != nil {
		return err
	}
	fmt.Printf("session: %s\nchunks:  %d\n", id, len(mapping))
	return nil
}

func askAction(ctx context.Context, cmd *cli.Command) error {
	question := cmd.Args().First()
	if question == "" {
		return fmt.Errorf("missing question")
	}
	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()
	svc, err := a.service()
	if err != nil {
		return err
	}
	src, err := document.Load(cmd.String("file"))
	if err != nil {
		return err
	}
	doc := service.Open(cmd.String("session"), src)

	ans, err := svc.Ask(ctx, doc, question)
	if err != nil {
		return err
	}
	fmt.Println(ans.Text)
	fmt.Println()
	for i, r := range ans.Retrieval.Top {
		fmt.Printf("[%d] %.3f %s\n", i+1, r.Similarity, r.ChunkID)
	}
	hl := ans.Grounding.Highlighted()
	for _, u := range doc.Units {
		if hl[u.ID] {
			marker := " "
			if u.ID == ans.Grounding.MostRelevantUnitID {
				marker = "*"
			}
			fmt.Printf("%s %s: %s\n", marker, u.ID, u.Text)
		}
	}
	return nil
}

func viewAction(ctx context.Context, cmd *cli.Command) error {
	path, err := fileArg(cmd)
	if err != nil {
		return err
	}
	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()
	svc, err := a.service()
	if err != nil {
		return err
	}
	doc, err := svc.UploadFile(ctx, path)
	if err != nil {
		return err
	}
	defer func() {
		// the session is single-use for the viewer
		if err := svc.Forget(context.Background(), doc.SessionID); err != nil {
			slog.Warn("failed to forget session", "session_id", doc.SessionID, "error", err)
		}
	}()

	m := tui.New(ctx, svc, doc)
	_, err = tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}

func sweepAction(ctx context.Context, cmd *cli.Command) error {
	interval := cmd.Duration("interval")
	if cmd.Bool("watch") && interval <= 0 {
		return fmt.Errorf("invalid --interval %s: must be positive", interval)
	}
	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()

	if !cmd.Bool("watch") {
		r := a.indexer.Sweep(ctx)
		fmt.Printf("scanned %d, deleted %d, failures %d\n", r.Scanned, r.TotalDeleted(), r.Failures)
		return nil
	}

	if addr := a.cfg.Metrics.Addr; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler(a.registry))
		srv := &http.Server{Addr: addr, Handler: mux, ReadTimeout: 5 * time.Second, WriteTimeout: 10 * time.Second}
		go func() {
			slog.Info("metrics server listening", "addr", addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics server error", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	slog.Info("sweeping sessions", "interval", interval)
	for {
		a.indexer.Sweep(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func forgetAction(ctx context.Context, cmd *cli.Command) error {
	a, err := setup(ctx, cmd)
	if err != nil {
		return err
	}
	defer a.close()
	return a.indexer.Forget(ctx, cmd.String("session"))
}
