// Package cli is the command-line entry point: config and logging setup, then one of
// run, chat or schedule.
package cli

import (
	"fmt"
	"io"
	"os"

	"shop_automation/infrastructure/config"
	"shop_automation/infrastructure/logging"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// app carries what PersistentPreRunE resolved to the subcommands
type app struct {
	cfgFile string
	v       *viper.Viper
	cfg     *config.Config
	logger  *logrus.Logger
	closer  io.Closer
	in      io.Reader
	out     io.Writer
}

// persistentFlagKeys maps root flags onto config keys
var persistentFlagKeys = map[string]string{
	"backend":   "browser.backend",
	"proxy":     "browser.proxy",
	"extension": "browser.extension",
	"headless":  "browser.headless",
	"log-level": "logger.level",
}

// NewRootCmd builds the command tree reading from in and printing to out
func NewRootCmd(in io.Reader, out io.Writer) *cobra.Command {
	a := &app{in: in, out: out}

	rootCmd := &cobra.Command{
		Use:           "shopbot",
		Short:         "Automates login, product search and add-to-cart on a web storefront",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initialize(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if a.closer != nil {
				return a.closer.Close()
			}
			return nil
		},
	}
	rootCmd.SetIn(in)
	rootCmd.SetOut(out)

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&a.cfgFile, "config", "c", "", "config file (default is ./shopbot.yaml)")
	pf.String("backend", "", "browser backend: inprocess, script, remote or auto")
	pf.String("proxy", "", "proxy server, e.g. http://my-proxy.example:8080")
	pf.String("extension", "", "path to an unpacked browser extension")
	pf.Bool("headless", false, "run the in-process browser without a window")
	pf.String("log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(newRunCmd(a), newChatCmd(a), newScheduleCmd(a))
	return rootCmd
}

// initialize loads .env, the config file, the environment and flags, then builds the logger
func (a *app) initialize(cmd *cobra.Command) error {
	if _, err := config.LoadDotEnv(); err != nil {
		return err
	}

	a.v = viper.New()
	if err := config.Prepare(a.v, a.cfgFile); err != nil {
		return err
	}
	for name, key := range persistentFlagKeys {
		if err := a.v.BindPFlag(key, cmd.Flags().Lookup(name)); err != nil {
			return fmt.Errorf("failed to bind --%s: %w", name, err)
		}
	}
	if f := cmd.Flags().Lookup("interval"); f != nil {
		if err := a.v.BindPFlag("schedule.interval", f); err != nil {
			return fmt.Errorf("failed to bind --interval: %w", err)
		}
	}
	if f := cmd.Flags().Lookup("search"); f != nil {
		if err := a.v.BindPFlag("target.search_term", f); err != nil {
			return fmt.Errorf("failed to bind --search: %w", err)
		}
	}

	cfg, err := config.NewConfigFromViper(a.v)
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger, a.closer = logging.New(cfg.Logger, cmd.ErrOrStderr())
	a.logger.WithField("command", cmd.Name()).Debug("configuration loaded")
	return nil
}

// Execute runs the root command against the process streams
func Execute() {
	if err := NewRootCmd(os.Stdin, os.Stdout).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
