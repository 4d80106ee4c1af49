// FMEngine - Online Factorization Machine Training and Inference
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/fmengine

package main

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tomtom215/fmengine/internal/config"
	"github.com/tomtom215/fmengine/internal/logging"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
}

// app carries state from PersistentPreRunE into subcommands.
type app struct {
	flags globalFlags
	cfg   *config.Config
	out   io.Writer
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "fmctl",
		Short: "Train and serve online factorization machines",
		Long: `fmctl trains second-order factorization machines on LIBSVM data,
stores versioned snapshots, and serves online fit and predict over HTTP.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
	}

	root.PersistentFlags().StringVarP(&a.flags.configPath, "config", "c", "", "config file (default: $CONFIG_PATH or ./fmengine.yaml)")
	root.PersistentFlags().StringVar(&a.flags.logLevel, "log-level", "", "override logging.level (trace, debug, info, warn, error)")

	root.AddCommand(
		newFitCmd(a),
		newPredictCmd(a),
		newEvalCmd(a),
		newInspectCmd(a),
		newServeCmd(a),
		newVersionCmd(),
	)
	return root
}

// init loads configuration and configures the global logger.
func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.LoadWithKoanf(a.flags.configPath)
	if err != nil {
		return err
	}
	if a.flags.logLevel != "" {
		if !logging.ValidLevel(a.flags.logLevel) {
			return fmt.Errorf("invalid --log-level %q", a.flags.logLevel)
		}
		cfg.Logging.Level = a.flags.logLevel
	}

	lc := cfg.LoggingSettings()
	lc.Output = cmd.ErrOrStderr()
	logging.Init(lc)

	a.cfg = cfg
	a.out = cmd.OutOrStdout()
	return nil
}

// printJSON writes v as indented JSON.
func (a *app) printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.out, string(data))
	return err
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the fmctl version",
		// Skips config loading.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "fmctl", version)
			return err
		},
	}
}
