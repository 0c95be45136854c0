package main

import (
	"github.com/spf13/cobra"

	"github.com/vansante/go-bootenv/be"
)

func newCreateCmd(a *app) *cobra.Command {
	var (
		from, description, policy string
		empty                     bool
		props                     map[string]string
		filesystems, shared       []string
	)
	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a boot environment",
		Long: `Create a boot environment as a copy of the running one, of another boot environment
or of a snapshot given as name@snapshot. With --empty a new, empty boot environment is created.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				env *be.BootEnvironment
				err error
			)
			if empty {
				env, err = a.engine.Init(cmd.Context(), be.InitRequest{
					Name:              args[0],
					Description:       description,
					Policy:            policy,
					Properties:        props,
					Filesystems:       filesystems,
					SharedFilesystems: shared,
				})
			} else {
				req := be.CopyRequest{
					Name:        args[0],
					Description: description,
					Policy:      policy,
					Properties:  props,
				}
				if name, snap, ok := splitSnapshot(from); ok {
					req.SourceName, req.SourceSnapshot = name, snap
				} else {
					req.SourceName = from
				}
				env, err = a.engine.Copy(cmd.Context(), req)
			}
			if err != nil {
				return err
			}
			printf(cmd, "Created boot environment %s\n", env.Name)
			return nil
		},
	}
	cmd.Flags().StringVarP(&from, "from", "e", "", "Boot environment or name@snapshot to copy, the running one by default")
	cmd.Flags().StringVarP(&description, "description", "d", "", "Description of the boot environment")
	cmd.Flags().StringVar(&policy, "policy", "", "Policy of the boot environment")
	cmd.Flags().StringToStringVarP(&props, "property", "o", nil, "ZFS property of the root dataset, as key=value")
	cmd.Flags().BoolVar(&empty, "empty", false, "Create an empty boot environment")
	cmd.Flags().StringSliceVar(&filesystems, "filesystem", nil, "Filesystem to create below an empty boot environment")
	cmd.Flags().StringSliceVar(&shared, "shared", nil, "Shared filesystem to create below the pool for an empty boot environment")
	return cmd
}

func newDestroyCmd(a *app) *cobra.Command {
	var force, origin bool
	cmd := &cobra.Command{
		Use:   "destroy <name|name@snapshot>",
		Short: "Destroy a boot environment or one of its snapshots",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if name, snap, ok := splitSnapshot(args[0]); ok {
				err := a.engine.DestroySnapshot(cmd.Context(), be.DestroySnapshotRequest{Name: name, Snapshot: snap})
				if err != nil {
					return err
				}
				printf(cmd, "Destroyed snapshot %s\n", args[0])
				return nil
			}

			err := a.engine.Destroy(cmd.Context(), be.DestroyRequest{
				Name:          args[0],
				ForceUnmount:  force,
				DestroyOrigin: origin,
			})
			if err != nil {
				return err
			}
			printf(cmd, "Destroyed boot environment %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Unmount the boot environment first")
	cmd.Flags().BoolVarP(&origin, "origin", "o", false, "Also destroy the snapshot the boot environment was cloned from")
	return cmd
}

func newRenameCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "rename <name> <new-name>",
		Short: "Rename a boot environment",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.engine.Rename(cmd.Context(), be.RenameRequest{Name: args[0], NewName: args[1]})
			if err != nil {
				return err
			}
			printf(cmd, "Renamed boot environment %s to %s\n", args[0], args[1])
			return nil
		},
	}
}

func newActivateCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "activate <name>",
		Short: "Boot the boot environment on the next reboot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			err := a.engine.Activate(cmd.Context(), be.ActivateRequest{Name: args[0]})
			if err != nil {
				return err
			}
			printf(cmd, "Activated boot environment %s\n", args[0])
			return nil
		},
	}
}
