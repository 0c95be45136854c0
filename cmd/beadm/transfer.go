package main

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"github.com/vansante/go-bootenv/be"
)

func newExportCmd(a *app) *cobra.Command {
	var (
		snapshot string
		level    int
		limit    string
	)
	cmd := &cobra.Command{
		Use:   "export <name> [file]",
		Short: "Write a boot environment as a replication stream",
		Long:  `Write a boot environment as a replication stream to the file, or to stdout when it is omitted.`,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bytesPerSecond, err := parseLimit(limit)
			if err != nil {
				return err
			}

			var out io.Writer = cmd.OutOrStdout()
			if len(args) == 2 {
				f, err := os.Create(args[1])
				if err != nil {
					return fmt.Errorf("error creating export file: %w", err)
				}
				defer f.Close()
				out = f
			}

			n, err := a.engine.Export(cmd.Context(), out, be.ExportRequest{
				Name:             args[0],
				Snapshot:         snapshot,
				CompressionLevel: zstd.EncoderLevel(level),
				BytesPerSecond:   bytesPerSecond,
			})
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "Exported boot environment %s (%s)\n", args[0], humanize.IBytes(uint64(n)))
			return nil
		},
	}
	cmd.Flags().StringVarP(&snapshot, "snapshot", "s", "", "Snapshot to export, a temporary one is made when omitted")
	cmd.Flags().IntVarP(&level, "compress", "z", 0, "Zstandard encoder level from 1 (fastest) to 4 (best), 0 disables compression")
	cmd.Flags().StringVar(&limit, "limit", "", "Maximum speed, such as 20MiB")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var (
		decompress bool
		limit      string
	)
	cmd := &cobra.Command{
		Use:   "import <name> [file]",
		Short: "Create a boot environment from a replication stream",
		Long:  `Create a boot environment from a replication stream read from the file, or from stdin when it is omitted.`,
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			bytesPerSecond, err := parseLimit(limit)
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if len(args) == 2 {
				f, err := os.Open(args[1])
				if err != nil {
					return fmt.Errorf("error opening import file: %w", err)
				}
				defer f.Close()
				in = f
			}

			env, err := a.engine.Import(cmd.Context(), in, be.ImportRequest{
				Name:                args[0],
				EnableDecompression: decompress,
				BytesPerSecond:      bytesPerSecond,
			})
			if err != nil {
				return err
			}
			printf(cmd, "Imported boot environment %s\n", env.Name)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&decompress, "decompress", "z", false, "Decompress a zstandard compressed stream")
	cmd.Flags().StringVar(&limit, "limit", "", "Maximum speed, such as 20MiB")
	return cmd
}

// parseLimit parses a human readable speed per second, an empty limit is unlimited
func parseLimit(limit string) (int64, error) {
	if limit == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(limit)
	if err != nil {
		return 0, fmt.Errorf("invalid limit %q: %w", limit, err)
	}
	return int64(n), nil
}
