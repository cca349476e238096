// Package workspace manages a directory of DBT properties files.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"dbtyaml/internal/store"

	log "github.com/sirupsen/logrus"
)

var (
	ErrInvalidFile = errors.New("invalid file name")
	ErrAmbiguous   = errors.New("model found in several files")
	ErrNoFile      = errors.New("file not found")
)

var allowedExtensions = []string{".yml", ".yaml"}

// Options of a workspace. Store options are given to every opened file.
type Options struct {
	Store store.Options
	// KeepEmptyFiles keeps a file whose last model was deleted. By default
	// the file is removed.
	KeepEmptyFiles bool
}

// Workspace is a directory holding DBT properties files.
type Workspace struct {
	dir  string
	opts Options
}

// New creates the directory if needed and returns the workspace.
func New(dir string, opts Options) (*Workspace, error) {
	mode := opts.Store.DirMode
	if mode == 0 {
		mode = 0o755
	}
	if err := os.MkdirAll(dir, mode); err != nil {
		return nil, fmt.Errorf("creating workspace %s: %w", dir, err)
	}
	return &Workspace{dir: dir, opts: opts}, nil
}

// Dir returns the workspace directory.
func (w *Workspace) Dir() string {
	return w.dir
}

// Files returns the YAML file names of the workspace, sorted.
func (w *Workspace) Files() ([]string, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", w.dir, err)
	}
	files := []string{}
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		if hasAllowedExtension(e.Name()) {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)
	return files, nil
}

// Path returns the path of a file of the workspace, after checking the name.
func (w *Workspace) Path(file string) (string, error) {
	if err := CheckFileName(file); err != nil {
		return "", err
	}
	return filepath.Join(w.dir, file), nil
}

// Open loads one file of the workspace. The file may not exist yet.
func (w *Workspace) Open(file string) (*store.Store, error) {
	path, err := w.Path(file)
	if err != nil {
		return nil, err
	}
	return store.Open(path, w.opts.Store)
}

// OpenExisting is Open for a file that must already exist.
func (w *Workspace) OpenExisting(file string) (*store.Store, error) {
	path, err := w.Path(file)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNoFile, file)
	}
	return store.Open(path, w.opts.Store)
}

// Find returns the files holding a model named name.
func (w *Workspace) Find(name string) ([]string, error) {
	files, err := w.Files()
	if err != nil {
		return nil, err
	}
	var found []string
	for _, file := range files {
		s, err := w.Open(file)
		if err != nil {
			// a broken file must not hide the others
			log.WithFields(log.Fields{"file": file, "error": err}).Warn("skipping unreadable file")
			continue
		}
		if _, err := s.Model(name); err == nil {
			found = append(found, file)
		}
	}
	return found, nil
}

// Resolve returns file when it is given, or the only file holding the model.
func (w *Workspace) Resolve(file, name string) (string, error) {
	if file != "" {
		return file, nil
	}
	found, err := w.Find(name)
	if err != nil {
		return "", err
	}
	switch len(found) {
	case 0:
		return "", &store.NotFoundError{Path: w.dir, Name: name}
	case 1:
		return found[0], nil
	}
	return "", fmt.Errorf("%w: %s is in %s", ErrAmbiguous, name, strings.Join(found, ", "))
}

// DefaultFileName is the file used to add a model when none is given.
func DefaultFileName(name string) string {
	return name + ".yml"
}

// AddModel adds a model to file, or to "<name>.yml" if file is empty. It
// returns the file name used.
func (w *Workspace) AddModel(name string, config store.Model, file string) (string, error) {
	if file == "" {
		file = DefaultFileName(name)
	}
	s, err := w.Open(file)
	if err != nil {
		return "", err
	}
	if err := s.AddModel(name, config); err != nil {
		return "", err
	}
	return file, nil
}

// UpdateModel replaces a model. An empty file means "the file holding it".
func (w *Workspace) UpdateModel(file, name string, config store.Model) (string, error) {
	file, err := w.Resolve(file, name)
	if err != nil {
		return "", err
	}
	s, err := w.Open(file)
	if err != nil {
		return "", err
	}
	return file, s.UpdateModel(name, config)
}

// DeleteModel removes a model. An empty file means "the file holding it".
// The file is removed when the model was the last one and nothing else
// (sources, seeds...) is left in it, unless Options.KeepEmptyFiles is set.
func (w *Workspace) DeleteModel(file, name string) (string, error) {
	file, err := w.Resolve(file, name)
	if err != nil {
		return "", err
	}
	s, err := w.Open(file)
	if err != nil {
		return "", err
	}
	if err := s.DeleteModel(name); err != nil {
		return "", err
	}
	if len(s.ListModels()) == 0 && len(s.Document().Extra) == 0 && !w.opts.KeepEmptyFiles {
		if err := os.Remove(s.Path()); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return file, fmt.Errorf("removing empty file %s: %w", s.Path(), err)
		}
		log.WithField("file", s.Path()).Info("empty file removed")
	}
	return file, nil
}

// CheckFileName refuses names that are not a plain YAML file name.
func CheckFileName(file string) error {
	switch {
	case file == "",
		file != filepath.Base(file),
		strings.ContainsAny(file, `/\`),
		strings.HasPrefix(file, "."):
		return fmt.Errorf("%w: %q", ErrInvalidFile, file)
	case !hasAllowedExtension(file):
		return fmt.Errorf("%w: %q must end with .yml or .yaml", ErrInvalidFile, file)
	}
	return nil
}

func hasAllowedExtension(file string) bool {
	ext := strings.ToLower(filepath.Ext(file))
	for _, allowed := range allowedExtensions {
		if ext == allowed {
			return true
		}
	}
	return false
}
