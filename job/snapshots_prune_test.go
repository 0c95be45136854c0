package job

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vansante/go-bootenv/be"
)

func createPolicySnapshots(t *testing.T, engine *be.Engine, clock *testClock, env, policy string, names ...string) {
	t.Helper()
	for i, name := range names {
		clock.set(at(12, i*10))
		_, err := engine.CreateSnapshot(context.Background(), be.CreateSnapshotRequest{
			Name:     env,
			Snapshot: name,
			Policy:   policy,
		})
		require.NoError(t, err)
	}
}

func TestRunner_pruneSnapshots(t *testing.T) {
	conf := Config{
		Policies: map[string]Policy{
			"hourly": {KeepSnapshots: 2},
		},
	}
	runnerTest(t, conf, func(runner *Runner, engine *be.Engine, clock *testClock) {
		initEnv(t, engine, "a", "hourly")
		createPolicySnapshots(t, engine, clock, "a", "", "manual")
		createPolicySnapshots(t, engine, clock, "a", "hourly", "s1", "s2", "s3", "s4")

		var deleted []string
		runner.AddListener(DeletedSnapshotEvent, func(arguments ...interface{}) {
			require.Len(t, arguments, 3)
			require.Equal(t, "a", arguments[1])
			deleted = append(deleted, arguments[2].(string))
		})

		require.NoError(t, runner.pruneSnapshots())
		require.Equal(t, []string{"s1", "s2"}, deleted)
		require.ElementsMatch(t, []string{"manual", "s3", "s4"}, snapshotNames(t, engine, "a"))

		require.NoError(t, runner.pruneSnapshots())
		require.Len(t, deleted, 2)
	})
}

func TestRunner_pruneSnapshotsRetention(t *testing.T) {
	conf := Config{
		Policies: map[string]Policy{
			"hourly": {SnapshotRetentionMinutes: 60},
		},
	}
	runnerTest(t, conf, func(runner *Runner, engine *be.Engine, clock *testClock) {
		initEnv(t, engine, "a", "hourly")
		createPolicySnapshots(t, engine, clock, "a", "hourly", "s1", "s2", "s3")

		// s1 was created at 12:00, s2 at 12:10 and s3 at 12:20
		clock.set(at(13, 5))
		require.NoError(t, runner.pruneSnapshots())
		require.Equal(t, []string{"s2", "s3"}, snapshotNames(t, engine, "a"))
	})
}

func TestRunner_pruneSnapshotsCloned(t *testing.T) {
	conf := Config{
		Policies: map[string]Policy{
			"hourly": {KeepSnapshots: 1},
		},
	}
	runnerTest(t, conf, func(runner *Runner, engine *be.Engine, clock *testClock) {
		initEnv(t, engine, "a", "hourly")
		createPolicySnapshots(t, engine, clock, "a", "hourly", "s1", "s2")

		_, err := engine.Copy(context.Background(), be.CopyRequest{SourceSnapshot: "a@s1", Name: "b"})
		require.NoError(t, err)

		require.NoError(t, runner.pruneSnapshots())
		require.Equal(t, []string{"s1", "s2"}, snapshotNames(t, engine, "a"))
	})
}

func Test_prunableSnapshots(t *testing.T) {
	now := at(12, 0)
	snaps := []be.SnapshotSet{
		{Name: "a", Creation: now.Add(-3 * time.Hour)},
		{Name: "b", Creation: now.Add(-2 * time.Hour)},
		{Name: "c", Creation: now.Add(-time.Hour)},
	}

	tests := []struct {
		name   string
		policy Policy
		want   []string
	}{
		{"keep all", Policy{}, nil},
		{"keep count", Policy{KeepSnapshots: 1}, []string{"a", "b"}},
		{"keep more than exist", Policy{KeepSnapshots: 5}, nil},
		{"retention", Policy{SnapshotRetentionMinutes: 150}, []string{"a"}},
		{"count and retention", Policy{KeepSnapshots: 2, SnapshotRetentionMinutes: 90}, []string{"a", "b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, snap := range prunableSnapshots(snaps, tt.policy, now) {
				got = append(got, snap.Name)
			}
			require.Equal(t, tt.want, got)
		})
	}
}
