package registry

import (
	"context"
	"os"
	"path/filepath"

	"github.com/dermesser/zmp/log"

	"github.com/nuclio/errors"
	"github.com/nuclio/logger"
	"golang.org/x/sys/unix"
	"gopkg.in/yaml.v3"
)

// DefaultFilePath is where File keeps its document unless told otherwise.
func DefaultFilePath() string {
	return filepath.Join(os.TempDir(), "zmp", "services.yaml")
}

// File is a registry shared by the processes of one host. The document is a
// YAML file; every operation holds a flock on a sibling lock file, and writes
// replace the document through a rename.
type File struct {
	path   string
	logger logger.Logger
}

type fileDocument struct {
	Services table `yaml:"services"`
}

// NewFile creates a file registry at path, or DefaultFilePath when empty.
func NewFile(parentLogger logger.Logger, path string) (*File, error) {
	if path == "" {
		path = DefaultFilePath()
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrapf(err, "Failed to create registry directory for %s", path)
	}

	return &File{
		path:   path,
		logger: log.Or(parentLogger).GetChild("registry"),
	}, nil
}

func (f *File) Path() string {
	return f.path
}

func (f *File) Publish(ctx context.Context, nodeID, address string, services []string) error {
	if err := checkNodeID(nodeID); err != nil {
		return err
	}

	err := f.update(func(t table) {
		t.publish(nodeID, address, services)
	})
	if err != nil {
		return errors.Wrapf(err, "Failed to publish %v for %s", services, nodeID)
	}

	f.logger.DebugWith("Published", "node", nodeID, "address", address, "services", services)
	return nil
}

func (f *File) Unpublish(ctx context.Context, nodeID string, services []string) error {
	err := f.update(func(t table) {
		t.unpublish(nodeID, services)
	})
	if err != nil {
		return errors.Wrapf(err, "Failed to unpublish %v for %s", services, nodeID)
	}

	f.logger.DebugWith("Unpublished", "node", nodeID, "services", services)
	return nil
}

func (f *File) Lookup(ctx context.Context, pattern string) (map[string][]Provider, error) {
	re, err := Compile(pattern)
	if err != nil {
		return nil, err
	}

	unlock, err := f.acquire(unix.LOCK_SH)
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, err := f.read()
	if err != nil {
		return nil, err
	}
	return t.lookup(re), nil
}

func (f *File) Close() error {
	return nil
}

// update runs mutate on the current document under the exclusive lock
func (f *File) update(mutate func(table)) error {
	unlock, err := f.acquire(unix.LOCK_EX)
	if err != nil {
		return err
	}
	defer unlock()

	t, err := f.read()
	if err != nil {
		return err
	}

	mutate(t)
	return f.write(t)
}

func (f *File) acquire(how int) (func(), error) {
	lockFile, err := os.OpenFile(f.path+".lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, errors.Wrap(err, "Failed to open registry lock")
	}

	for {
		err = unix.Flock(int(lockFile.Fd()), how)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		lockFile.Close()
		return nil, errors.Wrap(err, "Failed to lock registry")
	}

	return func() {
		unix.Flock(int(lockFile.Fd()), unix.LOCK_UN)
		lockFile.Close()
	}, nil
}

func (f *File) read() (table, error) {
	contents, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return make(table), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "Failed to read registry")
	}

	var document fileDocument
	if err := yaml.Unmarshal(contents, &document); err != nil {
		return nil, errors.Wrapf(err, "Failed to parse registry %s", f.path)
	}
	if document.Services == nil {
		document.Services = make(table)
	}
	return document.Services, nil
}

func (f *File) write(t table) error {
	contents, err := yaml.Marshal(fileDocument{Services: t})
	if err != nil {
		return errors.Wrap(err, "Failed to encode registry")
	}

	temp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*")
	if err != nil {
		return errors.Wrap(err, "Failed to create registry temp file")
	}

	if _, err := temp.Write(contents); err != nil {
		temp.Close()
		os.Remove(temp.Name())
		return errors.Wrap(err, "Failed to write registry temp file")
	}
	if err := temp.Close(); err != nil {
		os.Remove(temp.Name())
		return errors.Wrap(err, "Failed to close registry temp file")
	}

	if err := os.Rename(temp.Name(), f.path); err != nil {
		os.Remove(temp.Name())
		return errors.Wrap(err, "Failed to replace registry")
	}
	return nil
}
