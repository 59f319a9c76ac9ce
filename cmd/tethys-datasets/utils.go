package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/tethys-dataset-services/internal/common/config"
	"github.com/tethys-dataset-services/internal/common/logger"
	"github.com/tethys-dataset-services/pkg/dataset"
	"github.com/tethys-dataset-services/pkg/engines"
	"github.com/urfave/cli"
	"golang.org/x/term"
)

func appConfig(c *cli.Context) *config.Config {
	cfg, _ := c.App.Metadata["config"].(*config.Config)
	if cfg == nil {
		cfg = &config.Config{}
	}
	return cfg
}

func appLogger(c *cli.Context) logger.Logger {
	log, _ := c.App.Metadata["logger"].(logger.Logger)
	return logger.OrNop(log)
}

func runContext(c *cli.Context) context.Context {
	if ctx, ok := c.App.Metadata["context"].(context.Context); ok {
		return ctx
	}
	return context.Background()
}

// openEngine builds the engine of the service selected with --service.
func openEngine(c *cli.Context) (dataset.Engine, error) {
	cfg := appConfig(c)
	svc, err := cfg.Service(c.GlobalString("service"))
	if err != nil {
		return nil, err
	}
	if c.GlobalBool("ask-password") && svc.Username != "" && svc.Password == "" {
		if svc.Password, err = readPassword(fmt.Sprintf("Password for %s@%s: ", svc.Username, svc.Name)); err != nil {
			return nil, err
		}
	}
	return engines.New(svc, engines.Options{
		Timeout:   cfg.HTTP.Timeout,
		UserAgent: cfg.HTTP.UserAgent,
		Logger:    appLogger(c),
	})
}

func readPassword(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("cannot prompt for a password: stdin is not a terminal")
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(b), nil
}

// emit prints resp as indented JSON. A failed envelope yields errFailed so
// the process exits non-zero.
func emit(c *cli.Context, resp *dataset.Response) error {
	enc := json.NewEncoder(c.App.Writer)
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return fmt.Errorf("encoding response: %w", err)
	}
	if !resp.Success {
		return errFailed
	}
	return nil
}

func source(c *cli.Context) dataset.Source {
	return dataset.Source{URL: c.String("url"), Path: c.String("file")}
}

// parseOptions turns key=value pairs into engine options. Values that look
// like JSON objects or arrays are decoded; everything else stays a string.
func parseOptions(pairs []string) (dataset.Options, error) {
	opts := dataset.Options{}
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid option %q, expected key=value", p)
		}
		if strings.HasPrefix(v, "{") || strings.HasPrefix(v, "[") {
			var decoded interface{}
			if err := json.Unmarshal([]byte(v), &decoded); err != nil {
				return nil, fmt.Errorf("option %s: %w", k, err)
			}
			opts[k] = decoded
			continue
		}
		opts[k] = v
	}
	return opts, nil
}

func parseQuery(terms []string) (dataset.Query, error) {
	q := dataset.Query{}
	for _, t := range terms {
		k, v, ok := strings.Cut(t, "=")
		if !ok || k == "" {
			return nil, dataset.Errorf(dataset.KindInvalid, "query", "invalid query term %q, expected field=value", t)
		}
		q[k] = v
	}
	return q, nil
}
