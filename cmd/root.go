package cmd

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/natefinch/atomic"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/nostrc/negsync/config"
	"github.com/nostrc/negsync/node"
)

// NewRootCmd creates the negsync command. Config files are read from fs.
func NewRootCmd(fs afero.Fs) *cobra.Command {
	root := &cobra.Command{
		Use:           "negsync",
		Short:         "sync the local nostr event store with relays using negentropy",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	AddCommands(root)
	root.AddCommand(
		runCmd(fs),
		syncCmd(fs),
		configCmd(fs),
		versionCmd(),
	)
	return root
}

// AddCommands adds the persistent flags to the command.
func AddCommands(cmd *cobra.Command) {
	cmd.PersistentFlags().StringP("config", "c", "", "load configuration from file")
	config.AddFlags(cmd.PersistentFlags())
}

func runCmd(fs afero.Fs) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "sync with the configured relays periodically",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(fs, cmd)
			if err != nil {
				return err
			}
			if len(conf.Sync.Targets) == 0 {
				return errors.New("no relays configured, use --relay or sync.targets")
			}
			logger, err := setupLogging(cmd, conf)
			if err != nil {
				return err
			}
			defer logger.Close()

			app := node.New(node.WithConfig(conf), node.WithLog(logger))
			if err := app.Lock(); err != nil {
				return err
			}
			defer app.Cleanup()
			if err := app.Initialize(); err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			if err := app.Start(ctx); err != nil {
				logger.Zap().Error("negsync stopped", zap.Error(err))
				return err
			}
			return nil
		},
	}
}

func syncCmd(fs afero.Fs) *cobra.Command {
	return &cobra.Command{
		Use:   "sync",
		Short: "sync with each configured relay once and print the stats",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(fs, cmd)
			if err != nil {
				return err
			}
			logger, err := setupLogging(cmd, conf)
			if err != nil {
				return err
			}
			defer logger.Close()

			app := node.New(node.WithConfig(conf), node.WithLog(logger))
			if err := app.Lock(); err != nil {
				return err
			}
			defer app.Cleanup()
			if err := app.Initialize(); err != nil {
				return err
			}
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()
			results, syncErr := app.SyncOnce(ctx)
			if len(results) > 0 {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				if err := enc.Encode(results); err != nil {
					return errors.Join(syncErr, err)
				}
			}
			return syncErr
		},
	}
}

func configCmd(fs afero.Fs) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "configuration commands",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "dump [path]",
		Short: "write the effective configuration as yaml to the file or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig(fs, cmd)
			if err != nil {
				return err
			}
			data, err := yaml.Marshal(conf)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			if len(args) == 0 {
				_, err := cmd.OutOrStdout().Write(data)
				return err
			}
			if err := atomic.WriteFile(args[0], bytes.NewReader(data)); err != nil {
				return fmt.Errorf("write config to %s: %w", args[0], err)
			}
			return nil
		},
	})
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version info",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprint(out, Version)
			if Commit != "" {
				fmt.Fprintf(out, "+%s", Commit)
			}
			if Branch != "" {
				fmt.Fprintf(out, " (%s)", Branch)
			}
			fmt.Fprintln(out)
		},
	}
}
