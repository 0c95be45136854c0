package memzfs

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"path"
	"slices"
	"strings"
	"time"

	zfs "github.com/vansante/go-bootenv"
)

type streamSnapshot struct {
	Name       string            `json:"Name"`
	Creation   time.Time         `json:"Creation"`
	Used       uint64            `json:"Used"`
	Referenced uint64            `json:"Referenced"`
	Properties map[string]string `json:"Properties"`
}

type streamDataset struct {
	Path       string            `json:"Path"`
	Used       uint64            `json:"Used"`
	Properties map[string]string `json:"Properties"`
	Snapshots  []streamSnapshot  `json:"Snapshots"`
}

// stream is the content of a send stream, encoded as json
type stream struct {
	Snapshot string          `json:"Snapshot"`
	Datasets []streamDataset `json:"Datasets"`
}

// Send writes a snapshot to w. A replication stream also holds the older snapshots, the properties and
// the children that have the same snapshot.
func (s *Storage) Send(ctx context.Context, snapshot string, w io.Writer, opts zfs.SendOptions) error {
	st, err := s.stream(ctx, snapshot, opts)
	if err != nil {
		return err
	}

	writer, closer, err := zfs.StreamWriter(w, opts.BytesPerSecond, opts.CompressionLevel)
	if err != nil {
		return err
	}
	err = json.NewEncoder(writer).Encode(st)
	if err != nil {
		return fmt.Errorf("error writing stream of %s: %w", snapshot, err)
	}
	return closer()
}

func (s *Storage) stream(ctx context.Context, snapshot string, opts zfs.SendOptions) (*stream, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.check(ctx, "send", snapshot)
	if err != nil {
		return nil, err
	}
	if _, err = s.snapshot(snapshot); err != nil {
		return nil, err
	}

	name, snapName, _ := strings.Cut(snapshot, "@")
	filesystems := []string{name}
	if opts.Replicate {
		for _, key := range s.descendants(name) {
			if strings.Contains(key, "@") {
				continue
			}
			if _, ok := s.datasets[key+"@"+snapName]; ok {
				filesystems = append(filesystems, key)
			}
		}
	}

	withProps := opts.Replicate || opts.IncludeProperties
	st := &stream{Snapshot: snapName}
	for _, fs := range filesystems {
		ds := s.datasets[fs]
		sd := streamDataset{
			Path: strings.TrimPrefix(strings.TrimPrefix(fs, name), "/"),
			Used: ds.used,
		}
		if withProps {
			sd.Properties = maps.Clone(ds.local)
		}

		for _, snap := range s.snapshotsOf(fs) {
			_, sn, _ := strings.Cut(snap.name, "@")
			if !opts.Replicate && sn != snapName {
				continue
			}
			ss := streamSnapshot{
				Name:       sn,
				Creation:   snap.creation,
				Used:       snap.used,
				Referenced: snap.referenced,
			}
			if withProps {
				ss.Properties = maps.Clone(snap.local)
			}
			sd.Snapshots = append(sd.Snapshots, ss)
			if sn == snapName {
				break
			}
		}
		st.Datasets = append(st.Datasets, sd)
	}
	return st, nil
}

// Receive creates a filesystem from a stream written by Send. The given properties are set on every
// received filesystem, the properties within the stream are received properties.
func (s *Storage) Receive(ctx context.Context, name string, r io.Reader, opts zfs.ReceiveOptions) error {
	reader, closer, err := zfs.StreamReader(r, opts.BytesPerSecond, opts.EnableDecompression)
	if err != nil {
		return err
	}
	defer closer()

	var st stream
	err = json.NewDecoder(reader).Decode(&st)
	if err != nil {
		return fmt.Errorf("cannot receive '%s': invalid stream: %w", name, err)
	}
	_, err = io.Copy(io.Discard, reader)
	if err != nil {
		return fmt.Errorf("cannot receive '%s': %w", name, err)
	}
	if len(st.Datasets) == 0 || st.Datasets[0].Path != "" {
		return fmt.Errorf("cannot receive '%s': stream holds no filesystem", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err = s.check(ctx, "receive", name)
	if err != nil {
		return err
	}
	err = s.createChecks(name)
	if err != nil {
		return err
	}

	slices.SortStableFunc(st.Datasets, func(a, b streamDataset) int {
		return strings.Compare(a.Path, b.Path)
	})
	for _, sd := range st.Datasets {
		target := path.Join(name, sd.Path)
		if len(target) > maxNameLength {
			return fmt.Errorf("cannot receive '%s': %w", target, zfs.ErrNameTooLong)
		}
		if _, ok := s.datasets[path.Dir(target)]; !ok && sd.Path != "" {
			return fmt.Errorf("cannot receive '%s': parent does not exist: %w", target, zfs.ErrDatasetNotFound)
		}

		ds := s.newDataset(target, zfs.DatasetFilesystem)
		ds.used = sd.Used
		maps.Copy(ds.received, sd.Properties)
		maps.Copy(ds.local, opts.Properties)
		s.datasets[target] = ds

		for _, ss := range sd.Snapshots {
			snap := &dataset{
				name:       target + "@" + ss.Name,
				typ:        zfs.DatasetSnapshot,
				creation:   ss.Creation,
				used:       ss.Used,
				referenced: ss.Referenced,
				local:      make(map[string]string),
				received:   make(map[string]string),
			}
			maps.Copy(snap.received, ss.Properties)
			s.datasets[snap.name] = snap
		}
	}
	s.record("receive", name)
	return nil
}
