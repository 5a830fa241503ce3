package cmd

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"filedrop/internal/config"
	"filedrop/internal/logging"
)

var (
	cfgFile string
	v       = config.NewViper()
)

// exitError carries a specific process exit status out of a command. logged
// is set once the error has gone through the structured logger.
type exitError struct {
	code   int
	err    error
	logged bool
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "filedrop",
	Short: "Single-file uploads over a minimal TCP framing protocol",
	Long: `filedrop moves one file from a client to a server over raw TCP.

The client sends a fixed header (magic, name length, file size), the file name
and the payload; the server stores the file under its uploads directory and
answers with a single status byte.

Usage:
  Run a server:  filedrop serve --listen 0.0.0.0:5000 --upload-dir ./uploads
  Send a file:   filedrop send --connect host:5000 ./report.pdf`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfig(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")
	rootCmd.PersistentFlags().String("log-level", config.DefaultLogLevel, "log level: debug, info, warn or error")
	rootCmd.PersistentFlags().String("log-file", "", "also write logs to this file")
}

// initConfig binds the running command's flags and reads the config file.
// Only the running command is bound: serve and send share keys such as
// chunk_size.
func initConfig(cmd *cobra.Command) error {
	bindFlags(v, cmd.Flags())

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return nil
}

// bindFlags maps each --some-flag onto the some_flag configuration key
func bindFlags(v *viper.Viper, flags *pflag.FlagSet) {
	flags.VisitAll(func(f *pflag.Flag) {
		if f.Name == "config" || f.Name == "help" {
			return
		}
		v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
}

// setupLogging installs the process logger described by cfg
func setupLogging(cfg *config.Config) (*slog.Logger, io.Closer, error) {
	log, closer, err := logging.SetupLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		return nil, nil, err
	}
	if used := v.ConfigFileUsed(); used != "" {
		log.Info("Using config file", "path", used)
	}
	logging.LogConfig(log, cfg)
	return log, closer, nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Execute runs the command line and returns the process exit status
func Execute() int {
	err := rootCmd.Execute()
	if err == nil {
		return 0
	}

	code := 1
	var exitErr *exitError
	if stderrors.As(err, &exitErr) {
		if exitErr.logged {
			return exitErr.code
		}
		code = exitErr.code
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return code
}
