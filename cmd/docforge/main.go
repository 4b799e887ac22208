// Command docforge turns one document into a polished PDF or slide deck.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/automaxprocs/maxprocs"

	"github.com/dgallion1/docforge/internal/app"
	"github.com/dgallion1/docforge/internal/config"
	"github.com/dgallion1/docforge/internal/pipeline"
)

const (
	exitSuccess = 0 // run succeeded
	exitFailed  = 1 // run failed
	exitUsage   = 2 // bad flags or configuration
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	flags, location, err := parseFlags(args, stderr)
	if err != nil {
		return exitUsage
	}

	level := slog.LevelWarn
	if flags.verbose {
		level = slog.LevelInfo
	}
	log := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	_, _ = maxprocs.Set(maxprocs.Logger(func(format string, args ...any) {
		log.Debug(fmt.Sprintf(format, args...))
	}))

	cfg, err := config.LoadFile(flags.configPath(os.Getenv))
	if err == nil {
		err = flags.apply(&cfg)
	}
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		fmt.Fprintln(stderr, "docforge:", err)
		return exitUsage
	}
	output, _ := cfg.Output()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := app.New(cfg, log)
	defer a.Close()

	req := pipeline.Request{
		RunID:    pipeline.NewRunID(),
		Location: location,
		Output:   output,
		Title:    flags.title,
	}
	if flags.verbose {
		req.Observer = pipeline.LogObserver{Logger: log}
	}
	res := a.Controller.Run(ctx, req)

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(res); err != nil {
		fmt.Fprintln(stderr, "docforge: encode result:", err)
	}
	if !res.Success {
		return exitFailed
	}
	return exitSuccess
}
