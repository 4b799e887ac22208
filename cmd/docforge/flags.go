package main

import (
	"errors"
	"fmt"
	"io"

	flag "github.com/spf13/pflag"

	"github.com/dgallion1/docforge/internal/config"
)

var errUsage = errors.New("usage: docforge [flags] <file-or-url>")

// cliFlags holds the command-line overrides for one run.
type cliFlags struct {
	config       string
	output       string
	outDir       string
	title        string
	maxChunkSize int
	maxRetries   int
	verbose      bool

	set map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (*cliFlags, string, error) {
	fs := flag.NewFlagSet("docforge", flag.ContinueOnError)
	fs.SetOutput(stderr)
	f := &cliFlags{set: map[string]bool{}}

	fs.StringVarP(&f.config, "config", "c", "", "YAML config file (default $"+config.EnvFile+")")
	fs.StringVarP(&f.output, "output", "o", "", "output kind: pdf or slides")
	fs.StringVar(&f.outDir, "out-dir", "", "directory for generated files")
	fs.StringVarP(&f.title, "title", "t", "", "document title (overrides the generated one)")
	fs.IntVar(&f.maxChunkSize, "max-chunk-size", 0, "chunk ceiling in characters")
	fs.IntVar(&f.maxRetries, "max-retries", 0, "generation retries after the first attempt")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "log pipeline progress to stderr")

	fs.Usage = func() {
		fmt.Fprintln(stderr, errUsage)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return nil, "", err
	}
	fs.Visit(func(fl *flag.Flag) { f.set[fl.Name] = true })

	if fs.NArg() != 1 {
		fs.Usage()
		return nil, "", errUsage
	}
	return f, fs.Arg(0), nil
}

// apply layers explicitly set flags over cfg.
func (f *cliFlags) apply(cfg *config.Config) error {
	if f.set["output"] {
		cfg.OutputKind = f.output
	}
	if f.set["out-dir"] {
		cfg.OutputDir = f.outDir
	}
	if f.set["max-chunk-size"] {
		if f.maxChunkSize <= 0 {
			return fmt.Errorf("--max-chunk-size must be positive, got %d", f.maxChunkSize)
		}
		cfg.MaxChunkSize = f.maxChunkSize
	}
	if f.set["max-retries"] {
		if f.maxRetries < 0 {
			return fmt.Errorf("--max-retries must not be negative, got %d", f.maxRetries)
		}
		cfg.MaxRetries = f.maxRetries
	}
	return nil
}

// configPath prefers --config over the environment.
func (f *cliFlags) configPath(env func(string) string) string {
	if f.config != "" {
		return f.config
	}
	return env(config.EnvFile)
}
