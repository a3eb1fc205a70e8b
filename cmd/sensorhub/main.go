// Package main runs sensorhub: it polls the configured sensors and prints their readings until
// interrupted.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v2"

	_ "go.sensorhub.dev/sensorhub/components/register"
	"go.sensorhub.dev/sensorhub/config"
	"go.sensorhub.dev/sensorhub/logging"
)

const (
	flagConfig      = "config"
	flagDebug       = "debug"
	flagLogFile     = "log-file"
	flagMetricsAddr = "metrics-addr"
	flagSources     = "sources"
	flagSimulate    = "simulate"
	flagColor       = "color"
)

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "sensorhub",
		Usage: "collect readings from sysfs, I2C and SPI sensors",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE` (.yaml or .json)",
			},
			&cli.BoolFlag{
				Name:  flagDebug,
				Usage: "enable debug logging",
			},
			&cli.StringFlag{
				Name:  flagLogFile,
				Usage: "also write logs to `FILE`",
			},
			&cli.StringFlag{
				Name:  flagMetricsAddr,
				Usage: "serve Prometheus metrics on `ADDR`",
			},
			&cli.StringSliceFlag{
				Name:  flagSources,
				Usage: "sensors to run (attribute, i2c, spi)",
			},
			&cli.BoolFlag{
				Name:  flagSimulate,
				Usage: "run every sensor against an in-memory device",
			},
			&cli.StringFlag{
				Name:  flagColor,
				Usage: "colorize readings: auto, always or never",
			},
		},
		Action: runAction,
	}
}

// overridesFromFlags maps explicitly set flags onto configuration keys.
func overridesFromFlags(c *cli.Context) map[string]interface{} {
	overrides := map[string]interface{}{}
	if c.IsSet(flagLogFile) {
		overrides["log.file"] = c.String(flagLogFile)
	}
	if c.IsSet(flagMetricsAddr) {
		overrides["metrics.addr"] = c.String(flagMetricsAddr)
	}
	if c.IsSet(flagSources) {
		var sources []string
		for _, s := range c.StringSlice(flagSources) {
			sources = append(sources, strings.Split(s, ",")...)
		}
		overrides["sources"] = sources
	}
	if c.IsSet(flagColor) {
		overrides["console.color"] = c.String(flagColor)
	}
	if c.Bool(flagSimulate) {
		overrides["attribute.simulated"] = true
		overrides["i2c.simulated"] = true
		overrides["spi.simulated"] = true
	}
	return overrides
}

func runAction(c *cli.Context) error {
	logger := logging.NewLogger("sensorhub")
	logging.ReplaceGlobal(logger)
	config.InitLoggingSettings(logger, c.Bool(flagDebug))

	configPath := c.String(flagConfig)
	overrides := overridesFromFlags(c)
	cfg, err := config.Load(configPath, overrides)
	if err != nil {
		return err
	}
	if err := config.UpdateFileLogConfig(cfg.Log); err != nil {
		return err
	}
	if cfg.Log.File != "" {
		fileAppender := logging.NewFileAppender(cfg.Log.File, cfg.Log.MaxSizeMB)
		logger.AddAppender(fileAppender)
		defer func() {
			//nolint:errcheck
			fileAppender.Close()
		}()
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()
	// Restore default signal handling after the first signal so a second one kills the process
	// if shutdown hangs.
	go func() {
		<-ctx.Done()
		stop()
	}()

	return run(ctx, runOptions{
		Config:        cfg,
		ConfigPath:    configPath,
		Overrides:     overrides,
		Out:           os.Stdout,
		OutIsTerminal: isTerminal(os.Stdout),
		Logger:        logger,
	})
}
