package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// Upgrade runs ordered migrations against the on-disk document if its
// version is below current. A fresh (not-yet-existing) file is left
// alone here; Read/Update create it at current version on first touch.
// Migrations are applied and persisted one at a time so that a crash
// mid-upgrade never leaves a document whose on-disk version claims
// more than its content actually reflects (testable property 4).
func (s *Store[T]) Upgrade() error {
	raw, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "reading config %s for upgrade", s.path)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return errors.Wrapf(err, "decoding config %s for upgrade", s.path)
	}

	version := intField(doc, "version")
	for version < s.current {
		migration, ok := s.migrations[version]
		if !ok {
			return errors.Errorf("no migration registered from version %d towards %d", version, s.current)
		}
		if err := migration(doc); err != nil {
			return errors.Wrapf(err, "migrating config %s from version %d", s.path, version)
		}
		version++
		doc["version"] = version

		if err := s.writeRawAtomic(doc); err != nil {
			return err
		}
	}
	return nil
}

func intField(doc map[string]interface{}, key string) int {
	v, ok := doc[key]
	if !ok {
		return 0
	}
	f, ok := v.(float64)
	if !ok {
		return 0
	}
	return int(f)
}

func (s *Store[T]) writeRawAtomic(doc map[string]interface{}) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding config during migration")
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".tmp-migrate-*")
	if err != nil {
		return errors.Wrap(err, "creating temp migration file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "writing temp migration file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing temp migration file")
	}
	return os.Rename(tmpPath, s.path)
}
