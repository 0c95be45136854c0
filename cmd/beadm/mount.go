package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vansante/go-bootenv/be"
)

func newMountCmd(a *app) *cobra.Command {
	var shared, sharedRW bool
	cmd := &cobra.Command{
		Use:   "mount <name> [mountpoint]",
		Short: "Mount a boot environment",
		Long:  `Mount a boot environment below the mountpoint, a temporary directory is used when it is omitted.`,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var mountpoint string
			if len(args) == 2 {
				mountpoint = args[1]
			} else {
				dir, err := os.MkdirTemp("", "be_mount.")
				if err != nil {
					return fmt.Errorf("error creating mountpoint: %w", err)
				}
				mountpoint = dir
			}

			var flags be.MountFlags
			if shared || sharedRW {
				flags |= be.MountSharedFilesystems
			}
			if sharedRW {
				flags |= be.MountSharedReadWrite
			}
			err := a.engine.Mount(cmd.Context(), be.MountRequest{
				Name:       args[0],
				Mountpoint: mountpoint,
				Flags:      flags,
			})
			if err != nil {
				return err
			}
			printf(cmd, "Mounted boot environment %s at %s\n", args[0], mountpoint)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&shared, "shared", "s", false, "Also mount the shared filesystems, read only")
	cmd.Flags().BoolVar(&sharedRW, "shared-rw", false, "Also mount the shared filesystems, writable")
	return cmd
}

func newUnmountCmd(a *app) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:     "unmount <name>",
		Aliases: []string{"umount"},
		Short:   "Unmount a boot environment",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var flags be.MountFlags
			if force {
				flags |= be.MountForce
			}
			err := a.engine.Unmount(cmd.Context(), be.UnmountRequest{Name: args[0], Flags: flags})
			if err != nil {
				return err
			}
			printf(cmd, "Unmounted boot environment %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Unmount filesystems that are in use")
	return cmd
}
