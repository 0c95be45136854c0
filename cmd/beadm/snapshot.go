package main

import (
	"github.com/spf13/cobra"

	"github.com/vansante/go-bootenv/be"
)

func newSnapshotCmd(a *app) *cobra.Command {
	var policy string
	cmd := &cobra.Command{
		Use:   "snapshot <name|name@snapshot>",
		Short: "Snapshot every dataset of a boot environment",
		Long:  `Snapshot every dataset of a boot environment, the snapshot name is generated when it is omitted.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := be.CreateSnapshotRequest{Name: args[0], Policy: policy}
			if name, snap, ok := splitSnapshot(args[0]); ok {
				req.Name, req.Snapshot = name, snap
			}
			snap, err := a.engine.CreateSnapshot(cmd.Context(), req)
			if err != nil {
				return err
			}
			printf(cmd, "%s@%s\n", req.Name, snap)
			return nil
		},
	}
	cmd.Flags().StringVar(&policy, "policy", "", "Policy of the snapshot")
	return cmd
}

func newRollbackCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "rollback <name> <snapshot>",
		Short: "Roll a boot environment back to a snapshot",
		Long:  `Roll every dataset of a boot environment back to a snapshot, destroying the more recent snapshots.`,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.engine.Rollback(cmd.Context(), be.RollbackRequest{
				Name:     args[0],
				Snapshot: args[1],
				Force:    force,
			})
			if err != nil {
				return err
			}
			printf(cmd, "Rolled back boot environment %s to %s\n", args[0], args[1])
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Roll back a boot environment that is mounted or running")
	return cmd
}
