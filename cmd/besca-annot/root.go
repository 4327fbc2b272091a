package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/mariiabilous/besca/config"
	"github.com/mariiabilous/besca/pkg/errors"
	"github.com/mariiabilous/besca/pkg/log"
	"github.com/mariiabilous/besca/pkg/telemetry"
)

// app holds the flags shared by every command and the resolved config.
type app struct {
	configPath string
	envFile    string
	logLevel   string

	cfg config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "besca-annot",
		Short:         "Automated cell-type annotation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup()
		},
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			return a.writeMetrics()
		},
	}
	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "pipeline configuration file (YAML)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", ".env", "dotenv file loaded before the configuration")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override logging.level")

	root.AddCommand(newTrainCmd(a), newPredictCmd(a), newModelsCmd(a))
	return root
}

func (a *app) setup() error {
	if a.envFile != "" {
		if err := godotenv.Load(a.envFile); err != nil && !os.IsNotExist(err) {
			return errors.Wrapf(err, "load %s", a.envFile)
		}
	}

	var err error
	if a.configPath == "" {
		a.cfg = config.Default()
	} else if a.cfg, err = config.Load(a.configPath); err != nil {
		return err
	}
	if a.logLevel != "" {
		a.cfg.Logging.Level = a.logLevel
	}
	return log.SetupLogger(os.Stderr, a.cfg.Logging.Level)
}

func (a *app) writeMetrics() error {
	if !a.cfg.Metrics.Enabled {
		return nil
	}
	reg := prometheus.NewRegistry()
	if err := telemetry.Register(reg); err != nil {
		return errors.Wrap(err, "register metrics")
	}
	if err := telemetry.WriteTextfile(a.cfg.Metrics.Textfile, reg); err != nil {
		return errors.Wrapf(err, "write metrics %s", a.cfg.Metrics.Textfile)
	}
	return nil
}
