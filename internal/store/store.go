package store

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"dbtyaml/internal/utils"

	version "github.com/hashicorp/go-version"
	"github.com/k14s/difflib"
	log "github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
	sigsyaml "sigs.k8s.io/yaml"
)

const (
	defaultFileMode = 0o644
	defaultDirMode  = 0o755
)

// Options tunes a Store.
type Options struct {
	// SupportedVersions is a version constraint the document version must
	// satisfy, e.g. ">= 2".
	SupportedVersions string
	FileMode          os.FileMode
	DirMode           os.FileMode
}

func (o Options) withDefaults() Options {
	if o.SupportedVersions == "" {
		o.SupportedVersions = DefaultSupportedVersions
	}
	if o.FileMode == 0 {
		o.FileMode = defaultFileMode
	}
	if o.DirMode == 0 {
		o.DirMode = defaultDirMode
	}
	return o
}

// Store is a DBT properties file loaded in memory. Every successful mutation
// is written to disk before it becomes visible. A failed one leaves the
// memory and the file untouched.
//
// When the file is modified by someone else after it was loaded, the next
// write wins and a warning is logged.
type Store struct {
	path        string
	opts        Options
	constraints version.Constraints

	mu   sync.Mutex
	doc  *Document
	root *yaml.Node // the document as it was last read or written
	hash string     // hash of the file content when it was last read or written
}

// Open creates a store on path and loads it.
func Open(path string, opts Options) (*Store, error) {
	opts = opts.withDefaults()
	constraints, err := parseConstraints(opts.SupportedVersions)
	if err != nil {
		return nil, err
	}
	s := &Store{
		path:        path,
		opts:        opts,
		constraints: constraints,
		doc:         NewDocument(),
	}
	if _, err := s.Load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Path returns the file path of the store.
func (s *Store) Path() string {
	return s.path
}

// Load (re)reads the file. A missing or empty file gives a new document.
// On error, the previously loaded document is kept.
func (s *Store) Load() (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	content, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		s.doc, s.root, s.hash = NewDocument(), nil, ""
		return s.doc.Clone(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", s.path, err)
	}

	root, err := parseNode(s.path, content)
	if err != nil {
		return nil, err
	}
	c := &checker{constraints: s.constraints}
	if problems := c.check(root); len(problems) > 0 {
		return nil, &ValidationError{Path: s.path, Problems: problems}
	}
	doc, err := decode(s.path, root)
	if err != nil {
		return nil, err
	}

	s.doc, s.root, s.hash = doc, root, utils.HashBytes(content)
	log.WithFields(log.Fields{
		"file":   s.path,
		"models": len(doc.Models),
	}).Debug("configuration loaded")
	return s.doc.Clone(), nil
}

// Document returns a copy of the in memory document.
func (s *Store) Document() *Document {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// ListModels returns the model names in document order.
func (s *Store) ListModels() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Names()
}

// Model returns a copy of the named model.
func (s *Store) Model(name string) (Model, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.doc.Index(name)
	if i < 0 {
		return Model{}, &NotFoundError{Path: s.path, Name: name}
	}
	return s.doc.Models[i].Clone(), nil
}

// AddModel appends a model named name and persists the document.
func (s *Store) AddModel(name string, config Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkName(name); err != nil {
		return err
	}
	if s.doc.Index(name) >= 0 {
		return &DuplicateError{Path: s.path, Name: name}
	}
	model, err := normalize(name, config)
	if err != nil {
		return err
	}
	next := s.doc.Clone()
	next.Models = append(next.Models, model)
	if err := s.persist(next); err != nil {
		return err
	}
	log.WithFields(log.Fields{"file": s.path, "model": name}).Info("model added")
	return nil
}

// UpdateModel replaces the named model, keeping its position, and persists
// the document.
func (s *Store) UpdateModel(name string, config Model) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.doc.Index(name)
	if i < 0 {
		return &NotFoundError{Path: s.path, Name: name}
	}
	model, err := normalize(name, config)
	if err != nil {
		return err
	}
	next := s.doc.Clone()
	next.Models[i] = model
	if err := s.persist(next); err != nil {
		return err
	}
	log.WithFields(log.Fields{"file": s.path, "model": name}).Info("model updated")
	return nil
}

// DeleteModel removes the named model and persists the document.
func (s *Store) DeleteModel(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.doc.Index(name)
	if i < 0 {
		return &NotFoundError{Path: s.path, Name: name}
	}
	next := s.doc.Clone()
	next.Models = append(next.Models[:i], next.Models[i+1:]...)
	if err := s.persist(next); err != nil {
		return err
	}
	log.WithFields(log.Fields{"file": s.path, "model": name}).Info("model deleted")
	return nil
}

// Validate checks text with the version constraint of the store.
func (s *Store) Validate(text []byte) (bool, string) {
	if err := Check(text, s.opts.SupportedVersions); err != nil {
		return false, err.Error()
	}
	return true, "valid"
}

// Export returns the document as YAML. Values that did not change since the
// file was read are written the way they were.
func (s *Store) Export() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, content, err := encodeAfter(s.doc, s.root)
	return content, err
}

// ExportJSON returns the document as JSON.
func (s *Store) ExportJSON() ([]byte, error) {
	content, err := s.Export()
	if err != nil {
		return nil, err
	}
	return sigsyaml.YAMLToJSON(content)
}

// Diff shows what adding or updating the named model with config would
// change in the file. It returns an empty string when nothing changes.
func (s *Store) Diff(name string, config Model) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := checkName(name); err != nil {
		return "", err
	}
	model, err := normalize(name, config)
	if err != nil {
		return "", err
	}
	next := s.doc.Clone()
	if i := next.Index(name); i >= 0 {
		next.Models[i] = model
	} else {
		next.Models = append(next.Models, model)
	}

	_, current, err := encodeAfter(s.doc, s.root)
	if err != nil {
		return "", err
	}
	_, proposed, err := encodeAfter(next, s.root)
	if err != nil {
		return "", err
	}
	if string(current) == string(proposed) {
		return "", nil
	}
	return difflib.PPDiff(
		strings.Split(strings.TrimSuffix(string(current), "\n"), "\n"),
		strings.Split(strings.TrimSuffix(string(proposed), "\n"), "\n"),
	), nil
}

// Encode writes a document as YAML, without any original layout.
func Encode(doc *Document) ([]byte, error) {
	return utils.EncodeBasicYaml(doc)
}

// persist writes next to disk. The caller swaps the in memory document only
// if it succeeds.
func (s *Store) persist(next *Document) error {
	root, content, err := encodeAfter(next, s.root)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", s.path, err)
	}

	onDisk, err := utils.HashFile(s.path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", s.path, err)
	}
	if onDisk != s.hash {
		log.WithField("file", s.path).Warn("file changed on disk since it was loaded, overwriting it")
	}

	if err := writeFile(s.path, content, s.opts.FileMode, s.opts.DirMode); err != nil {
		return err
	}
	s.doc, s.root, s.hash = next, root, utils.HashBytes(content)
	return nil
}

// writeFile replaces path with content through a temporary file in the same
// directory, so a reader never sees a half written file.
func writeFile(path string, content []byte, mode, dirMode os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, dirMode); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Chmod(mode); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func checkName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &ValidationError{Problems: []string{"a model name is required"}}
	}
	return nil
}

// normalize sets the model name and moves Extra keys that shadow a known
// field into that field, so that the model always encodes.
func normalize(name string, config Model) (Model, error) {
	extra := config.Extra
	config.Extra = nil
	config.Name = name
	model, err := config.Merge(extra)
	if err != nil {
		return Model{}, err
	}
	model.Name = name
	return model, nil
}
