package prompt

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/haivivi/ecostream/pkg/cache"
)

// Catalog loads modules by name.
type Catalog interface {
	// Load returns the candidates for names, in order. Missing modules are
	// skipped unless the catalog is strict.
	Load(ctx context.Context, names []string) ([]Candidate, error)
}

// CatalogOptions configures an FSCatalog.
type CatalogOptions struct {
	// Strict makes Load fail with ErrModuleNotFound on a missing module.
	Strict bool

	// Cache stores parsed modules. Nil uses a private in-memory cache.
	Cache cache.Cache

	// TTL bounds how long a parsed module is reused. Zero keeps it for the
	// cache default.
	TTL time.Duration
}

// FSCatalog reads module files from an fs.FS. Files may live in any
// subdirectory and are addressed by base name; a name without extension
// also matches "<name>.txt".
type FSCatalog struct {
	fsys   fs.FS
	strict bool
	loader *cache.Loader[Candidate]

	indexOnce sync.Once
	index     map[string]string
	indexErr  error
}

// NewFSCatalog creates a catalog over fsys.
func NewFSCatalog(fsys fs.FS, opts CatalogOptions) *FSCatalog {
	c := opts.Cache
	if c == nil {
		c = cache.NewMemory(cache.MemoryOptions{})
	}
	return &FSCatalog{
		fsys:   fsys,
		strict: opts.Strict,
		loader: cache.NewLoader[Candidate](c, "module:", opts.TTL),
	}
}

// Load implements Catalog.
func (c *FSCatalog) Load(ctx context.Context, names []string) ([]Candidate, error) {
	out := make([]Candidate, 0, len(names))
	for _, name := range names {
		cand, _, err := c.loader.GetOrLoad(ctx, name, func(context.Context) (Candidate, error) {
			return c.read(name)
		}, nil)
		if errors.Is(err, ErrModuleNotFound) {
			if c.strict {
				return nil, err
			}
			slog.Debug("prompt: module missing", "module", name)
			continue
		}
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(cand.Text) == "" {
			slog.Debug("prompt: module empty", "module", name)
			continue
		}
		out = append(out, cand)
	}
	return out, nil
}

// Invalidate drops every parsed module so the next Load re-reads files.
func (c *FSCatalog) Invalidate(ctx context.Context) error {
	_, err := c.loader.Clear(ctx)
	return err
}

func (c *FSCatalog) read(name string) (Candidate, error) {
	p, err := c.resolve(name)
	if err != nil {
		return Candidate{}, err
	}
	data, err := fs.ReadFile(c.fsys, p)
	if err != nil {
		return Candidate{}, fmt.Errorf("prompt: read %s: %w", name, err)
	}
	fm, body, err := ParseModule(data)
	if err != nil {
		return Candidate{}, fmt.Errorf("prompt: module %s: %w", name, err)
	}
	return Candidate{Name: name, Text: body, Meta: fm, Tokens: EstimateTokens(body)}, nil
}

func (c *FSCatalog) resolve(name string) (string, error) {
	c.indexOnce.Do(c.buildIndex)
	if c.indexErr != nil {
		return "", c.indexErr
	}
	keys := []string{name, strings.ToLower(name)}
	if path.Ext(name) == "" {
		keys = append(keys, name+".txt", strings.ToLower(name)+".txt")
	}
	for _, k := range keys {
		if p, ok := c.index[k]; ok {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrModuleNotFound, name)
}

func (c *FSCatalog) buildIndex() {
	c.index = make(map[string]string)
	c.indexErr = fs.WalkDir(c.fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		base := path.Base(p)
		if _, ok := c.index[base]; !ok {
			c.index[base] = p
		}
		if lower := strings.ToLower(base); lower != base {
			if _, ok := c.index[lower]; !ok {
				c.index[lower] = p
			}
		}
		return nil
	})
	if c.indexErr != nil {
		c.indexErr = fmt.Errorf("prompt: index modules: %w", c.indexErr)
	}
}

// EstimateTokens approximates the token count of text as one token per
// four runes.
func EstimateTokens(text string) int {
	return (utf8.RuneCountInString(text) + 3) / 4
}
