// Package cmd contains the commands of the negsync executable.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/nostrc/negsync/config"
	"github.com/nostrc/negsync/log"
)

var (
	// Version is the app's semantic version. Designed to be overwritten by make.
	Version string

	// Branch is the git branch used to build the App. Designed to be overwritten by make.
	Branch string

	// Commit is the git commit used to build the app. Designed to be overwritten by make.
	Commit string
)

// signalContext returns a context canceled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func loadConfig(fs afero.Fs, cmd *cobra.Command) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	conf, err := config.Load(fs, path, cmd.Flags())
	if err != nil {
		return nil, err
	}
	return &conf, nil
}

func setupLogging(cmd *cobra.Command, conf *config.Config) (*log.Logger, error) {
	logger, err := log.New(conf.Logging, log.WithWriter(cmd.ErrOrStderr()))
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}
	return logger, nil
}
