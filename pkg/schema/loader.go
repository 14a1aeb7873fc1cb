package schema

import (
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/pubino/bsp/pkg/logging"
)

// Loader returns the schema for a content type, or nil when none is available.
type Loader interface {
	Load(contentType string) *Schema
}

var contentTypeID = regexp.MustCompile(`^[a-z0-9_]+$`)

// extensions are tried in order. yaml.v3 also accepts JSON documents.
var extensions = []string{".yaml", ".yml", ".json"}

// DirLoader reads <dir>/<content-type>.{yaml,yml,json}. Successfully parsed
// schemas are cached; misses are retried on every call so a descriptor added
// at runtime is picked up.
type DirLoader struct {
	dir    string
	logger *logging.Logger

	mu    sync.RWMutex
	cache map[string]*Schema
}

// NewDirLoader creates a loader rooted at dir.
func NewDirLoader(dir string, logger *logging.Logger) *DirLoader {
	if logger == nil {
		logger = logging.Nop()
	}
	return &DirLoader{
		dir:    dir,
		logger: logger,
		cache:  make(map[string]*Schema),
	}
}

// Dir returns the directory the loader reads from.
func (l *DirLoader) Dir() string {
	return l.dir
}

// Load implements Loader.
func (l *DirLoader) Load(contentType string) *Schema {
	if !contentTypeID.MatchString(contentType) {
		return nil
	}

	l.mu.RLock()
	cached, ok := l.cache[contentType]
	l.mu.RUnlock()
	if ok {
		return cached
	}

	for _, ext := range extensions {
		path := filepath.Join(l.dir, contentType+ext)
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				l.logger.Warnf("schema %s unreadable: %v", path, err)
			}
			continue
		}

		s, err := Parse(data)
		if err != nil {
			l.logger.Warnf("schema %s ignored: %v", path, err)
			return nil
		}
		if s.ContentType == "" {
			s.ContentType = contentType
		}

		l.mu.Lock()
		l.cache[contentType] = s
		l.mu.Unlock()

		l.logger.Debugf("loaded schema for %s from %s (%d fields)", contentType, path, len(s.Fields))
		return s
	}

	return nil
}

// Parse decodes and validates a YAML or JSON descriptor.
func Parse(data []byte) (*Schema, error) {
	var s Schema
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	if err := s.validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
