// Package main is the command line client for the dataset engines.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/tethys-dataset-services/internal/common/config"
	"github.com/tethys-dataset-services/internal/common/logger"
	"github.com/urfave/cli"
)

const usage = `runs dataset operations against CKAN, GeoServer and HydroShare services`

// errFailed is returned when an operation printed a failed envelope. The
// envelope already carries the message.
var errFailed = errors.New("operation failed")

// Main runs the client with args, writing envelopes to stdout.
func Main(args []string, stdout io.Writer) error {
	app := cli.NewApp()
	app.Name = "tethys-datasets"
	app.Usage = usage
	app.Version = "1.0.0"
	app.Writer = stdout

	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "services",
			Usage: "path to the services file (default $TETHYS_SERVICES_FILE or services.yml)",
		},
		cli.StringFlag{
			Name:  "service, s",
			Usage: "name of the configured service to use",
		},
		cli.StringFlag{
			Name:  "env-file",
			Usage: "dotenv file loaded before configuration",
			Value: ".env",
		},
		cli.StringFlag{
			Name:  "log",
			Usage: "log level (debug, info, warn, error); default $LOG_LEVEL",
		},
		cli.BoolFlag{
			Name:  "ask-password",
			Usage: "prompt for the service password when the services file has none",
		},
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	app.Before = func(c *cli.Context) error {
		if err := godotenv.Load(c.GlobalString("env-file")); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", c.GlobalString("env-file"), err)
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if path := c.GlobalString("services"); path != "" {
			if cfg.Services, err = config.LoadServices(path); err != nil {
				return err
			}
			cfg.ServicesFile = path
		}

		level := cfg.Logging.Level
		if l := c.GlobalString("log"); l != "" {
			level = l
		}
		lc := logger.DefaultLoggerConfig()
		lc.Level = logger.ParseLogLevel(level)
		lc.File = cfg.Logging.FilePath != ""
		lc.FilePath = cfg.Logging.FilePath
		lc.DiscordURL = cfg.Logging.DiscordURL
		log := logger.NewWithConfig(lc)
		log.Debug("Configuration loaded", "services_file", cfg.ServicesFile, "services", len(cfg.Services))

		c.App.Metadata = map[string]interface{}{
			"config":  cfg,
			"logger":  log,
			"context": ctx,
		}
		return nil
	}

	app.Commands = []cli.Command{
		enginesCommand,
		validateCommand,
		listDatasetsCommand,
		getDatasetCommand,
		createDatasetCommand,
		updateDatasetCommand,
		deleteDatasetCommand,
		searchDatasetsCommand,
		listResourcesCommand,
		getResourceCommand,
		createResourceCommand,
		updateResourceCommand,
		deleteResourceCommand,
		searchResourcesCommand,
		downloadCommand,
		listLayersCommand,
		getLayerCommand,
		deleteLayerCommand,
		reloadCommand,
	}

	return app.Run(args)
}

func main() {
	err := Main(os.Args, os.Stdout)
	if err == nil {
		return
	}
	if !errors.Is(err, errFailed) {
		fmt.Fprintf(os.Stderr, "tethys-datasets: %v\n", err)
	}
	os.Exit(1)
}
