// Package localenv is the local POSIX environment spec §4.4 describes: the
// plain-filesystem side of the virtual environment, used for files kept on
// local disk (manifests, locks, identity, and any data/log file the
// keep_local_* policy pins there) and exercised directly by tests that open
// a database with no cloud prefix at all.
package localenv

import (
	"io"
	"os"
	"path/filepath"
	"time"

	pkgerrors "github.com/Andrei-Masilevich/rocksdb-cloud/pkg/errors"
)

// Env is a thin pass-through to the host filesystem rooted at Dir.
type Env struct {
	Dir string
}

// New returns an Env rooted at dir, creating it if necessary.
func New(dir string) (*Env, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, translateError(err, "mkdir", dir)
	}
	return &Env{Dir: dir}, nil
}

func (e *Env) path(name string) string {
	return filepath.Join(e.Dir, filepath.FromSlash(name))
}

// Read returns the full contents of name.
func (e *Env) Read(name string) ([]byte, error) {
	data, err := os.ReadFile(e.path(name))
	if err != nil {
		return nil, translateError(err, "read", name)
	}
	return data, nil
}

// ReadRange returns [offset, offset+size) of name. size=0 reads to EOF.
func (e *Env) ReadRange(name string, offset, size int64) ([]byte, error) {
	f, err := os.Open(e.path(name))
	if err != nil {
		return nil, translateError(err, "read", name)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, translateError(err, "read", name)
	}

	if size == 0 {
		data, err := io.ReadAll(f)
		if err != nil {
			return nil, translateError(err, "read", name)
		}
		return data, nil
	}

	buf := make([]byte, size)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, translateError(err, "read", name)
	}
	return buf[:n], nil
}

// Write creates or truncates name with data, durable after the call
// returns (fsync'd before close, per the engine's durability requirement
// for WAL segments and manifests).
func (e *Env) Write(name string, data []byte) error {
	path := e.path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return translateError(err, "write", name)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return translateError(err, "write", name)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return translateError(err, "write", name)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return translateError(err, "write", name)
	}
	if err := f.Close(); err != nil {
		return translateError(err, "write", name)
	}
	return nil
}

// Append opens name for append, creating it if absent, and writes data.
func (e *Env) Append(name string, data []byte) error {
	path := e.path(name)
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return translateError(err, "append", name)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0640)
	if err != nil {
		return translateError(err, "append", name)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return translateError(err, "append", name)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return translateError(err, "append", name)
	}
	return f.Close()
}

// Size returns the current size of name.
func (e *Env) Size(name string) (int64, error) {
	info, err := os.Stat(e.path(name))
	if err != nil {
		return 0, translateError(err, "stat", name)
	}
	return info.Size(), nil
}

// Mtime returns the current modification time of name.
func (e *Env) Mtime(name string) (time.Time, error) {
	info, err := os.Stat(e.path(name))
	if err != nil {
		return time.Time{}, translateError(err, "stat", name)
	}
	return info.ModTime(), nil
}

// Exists reports whether name is present.
func (e *Env) Exists(name string) bool {
	_, err := os.Stat(e.path(name))
	return err == nil
}

// Delete removes name. It is idempotent: a missing file is not an error.
func (e *Env) Delete(name string) error {
	err := os.Remove(e.path(name))
	if err != nil && !os.IsNotExist(err) {
		return translateError(err, "delete", name)
	}
	return nil
}

// Rename renames oldName to newName. Rename onto a blank destination is
// rejected as NotSupported: the engine never renames data or log files, and
// the spec treats that attempt as a misuse rather than silently copying.
func (e *Env) Rename(oldName, newName string) error {
	if newName == "" {
		return pkgerrors.NewError(pkgerrors.ErrCodeCloudNotSupported, "rename to blank destination is not supported").
			WithComponent("localenv").WithOperation("rename").WithContext("old", oldName)
	}

	newPath := e.path(newName)
	if err := os.MkdirAll(filepath.Dir(newPath), 0750); err != nil {
		return translateError(err, "rename", newName)
	}
	if err := os.Rename(e.path(oldName), newPath); err != nil {
		return translateError(err, "rename", oldName)
	}
	return nil
}

// List returns the base names of entries directly under dir.
func (e *Env) List(dir string) ([]string, error) {
	entries, err := os.ReadDir(e.path(dir))
	if err != nil {
		return nil, translateError(err, "list", dir)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names, nil
}

// MkdirAll creates dir and any missing parents.
func (e *Env) MkdirAll(dir string) error {
	if err := os.MkdirAll(e.path(dir), 0750); err != nil {
		return translateError(err, "mkdir", dir)
	}
	return nil
}

func translateError(err error, operation, name string) error {
	if err == nil {
		return nil
	}
	if os.IsNotExist(err) {
		return pkgerrors.NewError(pkgerrors.ErrCodeCloudNotFound, "local file not found").
			WithComponent("localenv").WithOperation(operation).WithContext("name", name)
	}
	return pkgerrors.NewError(pkgerrors.ErrCodeCloudPermanent, "local filesystem operation failed").
		WithComponent("localenv").WithOperation(operation).WithContext("name", name).WithCause(err)
}
