package zfs

import (
	"context"
	"math"
	"os"
	"os/exec"
	"strings"
	"testing"
	"time"
)

var zfsPermissions = []string{
	"canmount",
	"clone",
	"compression",
	"create",
	"destroy",
	"mount",
	"mountpoint",
	"promote",
	"readonly",
	"receive",
	"rename",
	"rollback",
	"send",
	"snapshot",
	"userprop",
}

// TestZPool uses some temp files to create a zpool with the given name to run tests with.
// The test is skipped when the zfs tools are not available.
func TestZPool(t testing.TB, zpool string, fn func()) {
	t.Helper()

	if _, err := exec.LookPath(PoolBinary); err != nil {
		t.Skipf("%s not available: %v", PoolBinary, err)
	}

	noErr := func(err error, out string) {
		t.Helper()
		if err != nil {
			t.Fatalf("error setting up test pool %s: %v: %s", zpool, err, out)
		}
	}
	args := []string{
		PoolBinary, "create", zpool,
	}

	for i := 0; i < 3; i++ {
		f, err := os.CreateTemp(os.TempDir(), "zfs-zpool-")
		noErr(err, "")
		err = f.Truncate(pow2(29))
		noErr(err, "")
		noErr(f.Close(), "")

		args = append(args, f.Name())

		defer os.Remove(f.Name()) // nolint:revive // its ok to defer to end of func
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sudo", args...)
	out, err := cmd.CombinedOutput()
	noErr(err, string(out))

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		cmd := exec.CommandContext(ctx, "sudo", PoolBinary, "destroy", "-f", zpool)
		out, err := cmd.CombinedOutput()
		noErr(err, string(out))
	}()

	cmd = exec.CommandContext(ctx, "sudo",
		Binary, "allow", "everyone",
		strings.Join(zfsPermissions, ","),
		zpool,
	)
	out, err = cmd.CombinedOutput()
	noErr(err, string(out))

	fn()
}

func pow2(x int) int64 {
	return int64(math.Pow(2, float64(x)))
}
