package zfs

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
)

type command struct {
	cmd    string
	ctx    context.Context
	stdin  io.Reader
	stdout io.Writer
}

// Run executes the command and returns its tab separated output, one slice of fields per line
func (c *command) Run(arg ...string) ([][]string, error) {
	cmd := exec.CommandContext(c.ctx, c.cmd, arg...)
	cmd.SysProcAttr = procAttributes()

	var stdout, stderr bytes.Buffer
	if c.stdout == nil {
		cmd.Stdout = &stdout
	} else {
		cmd.Stdout = c.stdout
	}

	if c.stdin != nil {
		cmd.Stdin = c.stdin
	}
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return nil, &CommandError{
			Err:    err,
			Debug:  strings.Join(cmd.Args, " "),
			Stderr: stderr.String(),
		}
	}

	// assume if you passed in something for stdout, that you know what to do with it
	if c.stdout != nil {
		return nil, nil
	}

	return splitOutput(stdout.String()), nil
}

func splitOutput(out string) [][]string {
	lines := strings.Split(out, "\n")

	// last line is always blank
	lines = lines[0 : len(lines)-1]
	output := make([][]string, len(lines))

	for i, l := range lines {
		// Scripted output (-H) is tab separated, values themselves may contain spaces
		output[i] = strings.Split(l, "\t")
	}
	return output
}

func zfs(ctx context.Context, arg ...string) error {
	_, err := zfsOutput(ctx, arg...)
	return err
}

func zfsOutput(ctx context.Context, arg ...string) ([][]string, error) {
	c := command{
		cmd: Binary,
		ctx: ctx,
	}
	return c.Run(arg...)
}

func zpoolOutput(ctx context.Context, arg ...string) ([][]string, error) {
	c := command{
		cmd: PoolBinary,
		ctx: ctx,
	}
	return c.Run(arg...)
}

func propsSlice(properties map[string]string) []string {
	args := make([]string, 0, len(properties)*3)
	for k, v := range properties {
		args = append(args, "-o")
		args = append(args, fmt.Sprintf("%s=%s", k, v))
	}
	return args
}
