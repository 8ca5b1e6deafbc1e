package partition

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
)

var ErrNoPartition = errors.New("no readable partition")

// Store manages the partition files under a base directory.
// Layout: {base}/{location}/data/{file}
type Store struct {
	BaseDir string
	// Write a CSV companion next to each partition
	CSVExport bool
	codec     parquet.CompressionCodec
}

func NewStore(baseDir, compression string, csvExport bool) (*Store, error) {
	codec, err := compressionCodec(compression)
	if err != nil {
		return nil, err
	}
	return &Store{BaseDir: baseDir, CSVExport: csvExport, codec: codec}, nil
}

// Dir returns the data directory of a location
func (s *Store) Dir(locationID string) string {
	return filepath.Join(s.BaseDir, locationID, "data")
}

func (s *Store) Path(key Key) string {
	return filepath.Join(s.Dir(key.LocationID), key.FileName())
}

// List returns the keys of the stored partitions of a location variant, oldest first
func (s *Store) List(locationID string, smart bool) ([]Key, error) {
	entries, err := os.ReadDir(s.Dir(locationID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}

	var keys []Key
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		key, err := ParseFileName(entry.Name())
		if err != nil || key.LocationID != locationID || key.Smart != smart {
			continue
		}
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i].Before(keys[j]) })
	return keys, nil
}

func (s *Store) Load(key Key) (*Partition, error) {
	p, err := decode(s.Path(key), key)
	if err != nil {
		return nil, fmt.Errorf("%v: %w", key, err)
	}
	p.Table.Sort()
	return p, nil
}

// Latest loads the most recent non-empty readable partition of a location variant.
// The boolean reports whether it is also the most recent file on disk.
func (s *Store) Latest(locationID string, smart bool) (*Partition, bool, error) {
	keys, err := s.List(locationID, smart)
	if err != nil {
		return nil, false, err
	}

	for i := len(keys) - 1; i >= 0; i-- {
		p, err := s.Load(keys[i])
		if err != nil {
			slog.Warn(fmt.Sprintf("%v: skipping unreadable partition, %s", keys[i], err))
			continue
		}
		if p.Len() == 0 {
			slog.Warn(fmt.Sprintf("%v: skipping empty partition", keys[i]))
			continue
		}
		return p, i == len(keys)-1, nil
	}
	return nil, false, ErrNoPartition
}

// Write publishes a partition atomically: the file is built under a temporary
// name in the same directory and only renamed into place once complete.
// Partitions without samples are not written. Reports whether a file was published.
func (s *Store) Write(p *Partition) (bool, error) {
	if p.Len() == 0 {
		return false, nil
	}

	b, err := encode(p, s.codec)
	if err != nil {
		return false, fmt.Errorf("%v: %w", p.Key, err)
	}

	if err := atomicWrite(s.Path(p.Key), b); err != nil {
		return false, fmt.Errorf("%v: %w", p.Key, err)
	}

	if s.CSVExport {
		if err := s.ExportCSV(p); err != nil {
			// the partition itself is published, only the companion failed
			slog.Warn(fmt.Sprintf("%v: could not export CSV companion, %s", p.Key, err))
		}
	}
	return true, nil
}

func atomicWrite(path string, b []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("could not create directory '%s': %w", dir, err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s.%s.tmp", filepath.Base(path), uuid.NewString()))
	fh, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("could not create temporary file: %w", err)
	}

	cleanup := func(err error) error {
		fh.Close()
		os.Remove(tmp)
		return err
	}

	if _, err := fh.Write(b); err != nil {
		return cleanup(fmt.Errorf("could not write '%s': %w", tmp, err))
	}
	if err := fh.Sync(); err != nil {
		return cleanup(fmt.Errorf("could not sync '%s': %w", tmp, err))
	}
	if err := fh.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("could not close '%s': %w", tmp, err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("could not publish '%s': %w", path, err)
	}
	return nil
}

// leftover temporary files from interrupted runs
func (s *Store) CleanTemporary(locationID string) {
	entries, err := os.ReadDir(s.Dir(locationID))
	if err != nil {
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".tmp") {
			if err := os.Remove(filepath.Join(s.Dir(locationID), name)); err == nil {
				slog.Info(fmt.Sprintf("%v: removed leftover temporary file %s", locationID, name))
			}
		}
	}
}
