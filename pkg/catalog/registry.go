package catalog

import (
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

//go:embed frameworks/*.yaml
var builtin embed.FS

// Registry holds the loaded framework catalogs. It is populated once at
// start-up and read concurrently afterwards; it is never mutated after load.
type Registry struct {
	frameworks map[string]*Framework
	order      []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{frameworks: make(map[string]*Framework)}
}

// LoadBuiltin loads the catalogs shipped with the binary.
func LoadBuiltin(logger *zap.Logger) (*Registry, error) {
	r := NewRegistry()
	if err := r.loadFS(builtin, "frameworks", logger); err != nil {
		return nil, err
	}
	return r, nil
}

// Load loads the builtin catalogs and then any YAML catalogs found in dir.
// Catalogs from dir replace builtin catalogs with the same id.
func Load(dir string, logger *zap.Logger) (*Registry, error) {
	r, err := LoadBuiltin(logger)
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return r, nil
	}
	if _, err := os.Stat(dir); err != nil {
		return nil, fmt.Errorf("catalog dir %s: %w", dir, err)
	}
	if err := r.loadFS(os.DirFS(dir), ".", logger); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) loadFS(fsys fs.FS, dir string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		ext := filepath.Ext(entry.Name())
		if entry.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		data, err := fs.ReadFile(fsys, filepath.ToSlash(filepath.Join(dir, entry.Name())))
		if err != nil {
			return err
		}
		fw, err := Parse(data)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", entry.Name(), err)
		}
		r.Add(fw)
		logger.Debug("loaded framework catalog",
			zap.String("framework", fw.ID),
			zap.String("version", fw.Version),
			zap.Int("controls", len(fw.Controls)))
	}
	return nil
}

// Parse decodes and validates one catalog document.
func Parse(data []byte) (*Framework, error) {
	fw := &Framework{Settings: DefaultSettings()}
	if err := yaml.Unmarshal(data, fw); err != nil {
		return nil, err
	}
	if err := fw.Validate(); err != nil {
		return nil, err
	}
	return fw, nil
}

// Add registers fw, replacing any catalog with the same id.
func (r *Registry) Add(fw *Framework) {
	if _, exists := r.frameworks[fw.ID]; !exists {
		r.order = append(r.order, fw.ID)
		sort.Strings(r.order)
	}
	r.frameworks[fw.ID] = fw
}

// Get returns the catalog for id. Lookup is case-insensitive.
func (r *Registry) Get(id string) (*Framework, error) {
	fw, ok := r.frameworks[strings.ToLower(strings.TrimSpace(id))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFramework, id)
	}
	return fw, nil
}

// IDs returns the loaded framework ids in sorted order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.order))
	copy(out, r.order)
	return out
}

// List returns the loaded catalogs in id order.
func (r *Registry) List() []*Framework {
	out := make([]*Framework, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.frameworks[id])
	}
	return out
}
