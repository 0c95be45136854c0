package be

import (
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	// maxDatasetNameLength is the longest dataset name ZFS accepts, including the snapshot part
	maxDatasetNameLength = 255

	snapshotDateTimeFormat = "2006-01-02-15:04:05"
)

var validNameRegexp = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]*$`)

func validateName(op, field, name string) error {
	if name == "" {
		return newError(Invalid, op, name, "%s is required", field)
	}
	if len(name) > maxDatasetNameLength {
		return newError(NameTooLong, op, name, "%s is longer than %d bytes", field, maxDatasetNameLength)
	}
	if !validNameRegexp.MatchString(name) {
		return newError(Invalid, op, name, "%s contains invalid characters", field)
	}
	return nil
}

// validateRelativePath validates a path of names separated by slashes, like usr/local
func validateRelativePath(op, field, rel string) error {
	if rel == "" || strings.HasPrefix(rel, "/") || strings.HasSuffix(rel, "/") {
		return newError(Invalid, op, rel, "%s must be a relative dataset path", field)
	}
	for _, part := range strings.Split(rel, "/") {
		err := validateName(op, field, part)
		if err != nil {
			return err
		}
	}
	return nil
}

func checkDatasetLength(op, name string) error {
	if len(name) > maxDatasetNameLength {
		return newError(NameTooLong, op, name, "dataset name is longer than %d bytes", maxDatasetNameLength)
	}
	return nil
}

// snapshotName generates a snapshot name from the configured template
func (e *Engine) snapshotName(envName string, tm time.Time) string {
	name := e.config.SnapshotNameTemplate
	name = strings.ReplaceAll(name, "%DATETIME%", tm.Format(snapshotDateTimeFormat))
	name = strings.ReplaceAll(name, "%UNIXTIME%", strconv.FormatInt(tm.Unix(), 10))
	name = strings.ReplaceAll(name, "%BE%", envName)
	return name
}

// uniqueSnapshotName generates a snapshot name that is not used by any dataset of the environment
func (e *Engine) uniqueSnapshotName(f *forest, env *envTree) string {
	base := e.snapshotName(env.name, e.now())
	name := base
	for i := 1; f.envHasSnapshot(env, name); i++ {
		name = fmt.Sprintf("%s-%d", base, i)
	}
	return name
}

// autoEnvName generates the name for a copy of an environment: <source>-N
func (e *Engine) autoEnvName(f *forest, pool, source string) string {
	for i := 1; ; i++ {
		name := fmt.Sprintf("%s-%d", source, i)
		if _, ok := f.lookup(pool, e.config.RootContainer, name); ok {
			continue
		}
		if _, ok := f.index[path.Join(e.container(pool), name)]; ok {
			continue
		}
		return name
	}
}

func (f *forest) envHasSnapshot(env *envTree, name string) bool {
	for _, idx := range env.members {
		if f.nodes[idx].hasSnapshot(name) {
			return true
		}
	}
	return false
}
