package be

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestValidateName(t *testing.T) {
	for _, name := range []string{"default", "a", "13.2-RELEASE", "be_1:x", "2024-05-01-12:00:00"} {
		require.NoError(t, validateName("test", "name", name), name)
	}

	for _, name := range []string{"", "-dash", ".dot", "a/b", "a@b", "a b", "ü"} {
		require.ErrorIs(t, validateName("test", "name", name), Invalid, name)
	}
	require.ErrorIs(t, validateName("test", "name", strings.Repeat("x", 256)), NameTooLong)
}

func TestValidateRelativePath(t *testing.T) {
	require.NoError(t, validateRelativePath("test", "path", "var"))
	require.NoError(t, validateRelativePath("test", "path", "usr/local"))

	for _, rel := range []string{"", "/var", "var/", "usr//local", "usr/../etc"} {
		require.ErrorIs(t, validateRelativePath("test", "path", rel), Invalid, rel)
	}
}

func TestSnapshotName(t *testing.T) {
	e, _ := newTestEngine(t)
	tm := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	require.Equal(t, "2024-01-02-03:04:05", e.snapshotName("a", tm))

	e.config.SnapshotNameTemplate = "%BE%-%UNIXTIME%"
	require.Equal(t, "a-1704164645", e.snapshotName("a", tm))
}
