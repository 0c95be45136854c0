// Command beadm manages ZFS boot environments
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	zfs "github.com/vansante/go-bootenv"
	"github.com/vansante/go-bootenv/be"
)

func main() {
	a := &app{storage: be.ZFSStorage{}}
	err := newRootCmd(a).Execute()
	if err != nil {
		os.Exit(1)
	}
}

// app holds the state shared by the commands
type app struct {
	storage    be.Storage
	configFile string
	pool       string
	verbose    bool

	config Config
	logger *slog.Logger
	engine *be.Engine
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:               "beadm",
		Short:             "Manage ZFS boot environments",
		Long:              `Create, copy, mount, activate and destroy bootable trees of ZFS datasets.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVarP(&a.configFile, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringVarP(&a.pool, "pool", "p", "", "Pool holding the boot environments")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "Log every step")

	root.AddCommand(
		newListCmd(a),
		newCreateCmd(a),
		newDestroyCmd(a),
		newRenameCmd(a),
		newActivateCmd(a),
		newMountCmd(a),
		newUnmountCmd(a),
		newSnapshotCmd(a),
		newRollbackCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newMaxAvailableCmd(a),
		newServeCmd(a),
		newRunJobsCmd(a),
	)
	return root
}

func (a *app) setup(cmd *cobra.Command, _ []string) error {
	conf, err := loadConfig(a.configFile)
	if err != nil {
		return err
	}
	if a.pool != "" {
		conf.Engine.Pool = a.pool
	}

	level := slog.LevelWarn
	if a.verbose {
		level = slog.LevelDebug
	}
	a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))

	if conf.Engine.Pool == "" {
		conf.Engine.Pool = a.rootPool(cmd.Context())
	}
	if conf.Jobs.Pool == "" {
		conf.Jobs.Pool = conf.Engine.Pool
	}
	a.config = conf
	a.engine = be.NewEngine(a.storage, conf.Engine, a.logger)
	a.engine.AddListener(be.DiagnosticEvent, func(arguments ...interface{}) {
		rec := arguments[0].(be.ErrorRecord)
		a.logger.Warn("beadm: Step failed", "origin", rec.Origin, "kind", rec.Kind.String(), "message", rec.Message)
	})
	return nil
}

// rootPool returns the pool of the dataset mounted at /, if any
func (a *app) rootPool(ctx context.Context) string {
	mounts, err := a.storage.Mounts(ctx)
	if err != nil {
		a.logger.Debug("beadm.rootPool: Error reading mounts", "error", err)
		return ""
	}
	for _, m := range mounts {
		if m.Path == "/" {
			return zfs.PoolName(m.Dataset)
		}
	}
	return ""
}

// splitSnapshot splits name@snapshot
func splitSnapshot(arg string) (name, snapshot string, ok bool) {
	return strings.Cut(arg, "@")
}

func printf(cmd *cobra.Command, format string, args ...any) {
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), format, args...)
}
