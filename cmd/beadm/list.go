package main

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/vansante/go-bootenv/be"
)

const timeFormat = "2006-01-02 15:04"

func newListCmd(a *app) *cobra.Command {
	var datasets, snapshots, asJSON bool
	cmd := &cobra.Command{
		Use:   "list [name]",
		Short: "List boot environments",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var envs []be.BootEnvironment
			if len(args) == 1 {
				env, err := a.engine.Get(cmd.Context(), "", args[0])
				if err != nil {
					return err
				}
				envs = append(envs, *env)
			} else {
				var err error
				envs, err = a.engine.List(cmd.Context(), a.config.Engine.Pool)
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			switch {
			case asJSON:
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(envs)
			case datasets:
				renderDatasets(out, envs)
			case snapshots:
				renderSnapshots(out, envs)
			default:
				renderEnvironments(out, envs)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&datasets, "datasets", "d", false, "List the datasets of every boot environment")
	cmd.Flags().BoolVarP(&snapshots, "snapshots", "s", false, "List the snapshots of every boot environment")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func newTable(w io.Writer, header []string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetAutoWrapText(false)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeader(header)
	return table
}

// activeFlags returns N for active now and R for active on reboot
func activeFlags(env *be.BootEnvironment) string {
	var flags strings.Builder
	if env.ActiveNow {
		flags.WriteString("N")
	}
	if env.ActiveOnBoot {
		flags.WriteString("R")
	}
	if flags.Len() == 0 {
		return "-"
	}
	return flags.String()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func renderEnvironments(w io.Writer, envs []be.BootEnvironment) {
	table := newTable(w, []string{"NAME", "ACTIVE", "MOUNTPOINT", "SPACE", "CREATED", "POLICY", "DESCRIPTION"})
	for i := range envs {
		env := &envs[i]
		table.Append([]string{
			env.Name,
			activeFlags(env),
			orDash(env.MountPath),
			humanize.IBytes(env.SpaceUsed),
			env.Creation.Local().Format(timeFormat),
			orDash(env.Policy),
			env.Description,
		})
	}
	table.Render()
}

func renderDatasets(w io.Writer, envs []be.BootEnvironment) {
	table := newTable(w, []string{"NAME", "DATASET", "MOUNTPOINT", "MOUNTED", "SPACE", "REFERENCED"})
	for _, env := range envs {
		for _, ds := range env.Datasets {
			mounted := "-"
			if ds.Mounted {
				mounted = ds.MountPath
			}
			table.Append([]string{
				env.Name,
				ds.Name,
				orDash(ds.Mountpoint),
				mounted,
				humanize.IBytes(ds.SpaceUsed),
				humanize.IBytes(ds.Referenced),
			})
		}
	}
	table.Render()
}

func renderSnapshots(w io.Writer, envs []be.BootEnvironment) {
	table := newTable(w, []string{"NAME", "SNAPSHOT", "SPACE", "CREATED", "POLICY"})
	for _, env := range envs {
		for _, snap := range env.Snapshots {
			table.Append([]string{
				env.Name,
				snap.Name,
				humanize.IBytes(snap.Used),
				snap.Creation.Local().Format(timeFormat),
				orDash(snap.Policy),
			})
		}
	}
	table.Render()
}

func newMaxAvailableCmd(a *app) *cobra.Command {
	var exact bool
	cmd := &cobra.Command{
		Use:   "max-available",
		Short: "Show the space freed by destroying every boot environment but the running one",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			avail, err := a.engine.MaxAvailable(cmd.Context(), "")
			if err != nil {
				return err
			}
			if exact {
				printf(cmd, "%d\n", avail)
			} else {
				printf(cmd, "%s\n", humanize.IBytes(avail))
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&exact, "exact", "e", false, "Print the size in bytes")
	return cmd
}
