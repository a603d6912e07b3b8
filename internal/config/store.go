package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// document is implemented by every JSON document this store manages.
// Both ClusterDocument and VMDocument satisfy it.
type document interface {
	versionField() *int
	audit() *[]AuditEntry
}

// Migration upgrades raw JSON from one version to the next. Migrations
// must be idempotent: running the same migration twice against its own
// output is a no-op.
type Migration func(raw map[string]interface{}) error

// Store is a file-backed JSON document with atomic updates and
// versioned migrations, generic over the document type it manages.
type Store[T document] struct {
	path       string
	logger     *logrus.Logger
	current    int
	migrations map[int]Migration // keyed by the version a migration upgrades *from*
	fresh      func() T
}

// NewStore constructs a Store for path. fresh returns a new document at
// currentVersion (used when no file exists yet). migrations is keyed by
// the on-disk version a migration upgrades from (e.g. migrations[1]
// takes a v1 document to v2).
func NewStore[T document](path string, logger *logrus.Logger, currentVersion int, fresh func() T, migrations map[int]Migration) *Store[T] {
	return &Store[T]{
		path:       path,
		logger:     logger,
		current:    currentVersion,
		migrations: migrations,
		fresh:      fresh,
	}
}

// Read loads and returns the current document, running Upgrade first
// if the on-disk version is behind current.
func (s *Store[T]) Read() (T, error) {
	if err := s.Upgrade(); err != nil {
		var zero T
		return zero, err
	}
	return s.readRaw()
}

func (s *Store[T]) readRaw() (T, error) {
	var doc T
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		doc = s.fresh()
		return doc, s.writeAtomic(doc)
	}
	if err != nil {
		var zero T
		return zero, errors.Wrapf(err, "reading config %s", s.path)
	}

	doc = s.fresh()
	if err := json.Unmarshal(data, &doc); err != nil {
		var zero T
		return zero, errors.Wrapf(err, "decoding config %s", s.path)
	}
	return doc, nil
}

// Update reads the document, applies fn to it in-memory, writes the
// result atomically (temp file + rename), and appends an audit entry.
// Callers are responsible for holding the Node Lock for the duration
// of the call; Store does not itself serialise concurrent callers.
func (s *Store[T]) Update(fn func(T) error, auditMessage string) error {
	if err := s.Upgrade(); err != nil {
		return err
	}
	doc, err := s.readRaw()
	if err != nil {
		return err
	}
	if err := fn(doc); err != nil {
		return err
	}

	log := doc.audit()
	*log = append(*log, AuditEntry{Timestamp: time.Now().UTC().Format(time.RFC3339), Message: auditMessage})
	if len(*log) > MaxAuditEntries {
		*log = (*log)[len(*log)-MaxAuditEntries:]
	}

	if err := s.writeAtomic(doc); err != nil {
		return err
	}
	if s.logger != nil {
		s.logger.WithFields(logrus.Fields{
			"path":    s.path,
			"message": auditMessage,
		}).Info("config store updated")
	}
	return nil
}

// writeAtomic writes doc to a temp file in the same directory and
// renames it over the target path, so no partial write is ever
// observable by a concurrent reader.
func (s *Store[T]) writeAtomic(doc T) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding config")
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating config directory %s", dir)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-config-*")
	if err != nil {
		return errors.Wrap(err, "creating temp config file")
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once renamed

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "writing temp config file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "syncing temp config file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing temp config file")
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return errors.Wrapf(err, "renaming %s to %s", tmpPath, s.path)
	}
	return nil
}
