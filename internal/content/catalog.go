package content

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// catalogConfig mirrors catalog.json: which tests each tenant may list.
type catalogConfig struct {
	Tenants map[string][]string `json:"tenants"`
}

// Catalog holds all loaded test specs and the tenant assignment table. It is
// safe for concurrent use; Reload swaps the whole snapshot under the lock.
type Catalog struct {
	root string

	mu      sync.RWMutex
	specs   map[string]*TestSpec
	bySlug  map[string]string
	tenants map[string][]string

	watcher  *fsnotify.Watcher
	stopChan chan struct{}
	stopOnce sync.Once
}

// LoadCatalog reads every test spec under root/tests/<test_id>/spec.json and
// the tenant table from root/catalog.json. Any invalid spec fails the load.
func LoadCatalog(root string) (*Catalog, error) {
	c := &Catalog{root: root, stopChan: make(chan struct{})}
	if err := c.Reload(); err != nil {
		return nil, err
	}
	return c, nil
}

// Reload re-reads everything from disk and atomically replaces the snapshot.
// On error the previous snapshot stays in place.
func (c *Catalog) Reload() error {
	specs, bySlug, err := loadSpecs(filepath.Join(c.root, "tests"))
	if err != nil {
		return err
	}
	tenants, err := loadTenantTable(filepath.Join(c.root, "catalog.json"))
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.specs = specs
	c.bySlug = bySlug
	c.tenants = tenants
	c.mu.Unlock()
	return nil
}

func loadSpecs(testsRoot string) (map[string]*TestSpec, map[string]string, error) {
	entries, err := os.ReadDir(testsRoot)
	if err != nil {
		return nil, nil, fmt.Errorf("reading tests root: %w", err)
	}

	specs := make(map[string]*TestSpec, len(entries))
	bySlug := make(map[string]string, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		testID := entry.Name()
		specPath := filepath.Join(testsRoot, testID, "spec.json")
		raw, err := os.ReadFile(specPath)
		if err != nil {
			return nil, nil, fmt.Errorf("reading %s: %w", specPath, err)
		}

		var spec TestSpec
		if err := json.Unmarshal(raw, &spec); err != nil {
			return nil, nil, fmt.Errorf("invalid JSON for test %s: %w", testID, err)
		}
		if err := ValidateTestSpec(&spec, testID); err != nil {
			return nil, nil, err
		}
		specs[spec.TestID] = &spec
		bySlug[spec.Slug] = spec.TestID
	}
	return specs, bySlug, nil
}

func loadTenantTable(path string) (map[string][]string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string][]string{}, nil
		}
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	var cfg catalogConfig
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("invalid catalog config %s: %w", path, err)
	}
	if cfg.Tenants == nil {
		cfg.Tenants = map[string][]string{}
	}
	return cfg.Tenants, nil
}

// TestByID returns the spec for testID, or nil if unknown.
func (c *Catalog) TestByID(testID string) *TestSpec {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.specs[testID]
}

// TestBySlug resolves a public slug to its test id. It returns "" if the
// slug is unknown.
func (c *Catalog) TestBySlug(slug string) string {
	normalized := strings.ToLower(strings.TrimSpace(slug))
	if normalized == "" {
		return ""
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.bySlug[normalized]
}

// TenantTestIDs returns the test ids listed for a tenant, in config order.
func (c *Catalog) TenantTestIDs(tenantID string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	ids := c.tenants[tenantID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// ListAll returns summaries of every loaded test, sorted by test id.
func (c *Catalog) ListAll() []TestSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	summaries := make([]TestSummary, 0, len(c.specs))
	for _, spec := range c.specs {
		locales := make([]string, 0, len(spec.Locales))
		for locale := range spec.Locales {
			locales = append(locales, locale)
		}
		sort.Strings(locales)
		summaries = append(summaries, TestSummary{
			TestID:   spec.TestID,
			Slug:     spec.Slug,
			Category: spec.Category,
			Locales:  locales,
		})
	}
	sort.Slice(summaries, func(i, j int) bool { return summaries[i].TestID < summaries[j].TestID })
	return summaries
}

// resolveLocaleStrings picks the copy for locale, falling back to en, then
// to any locale the spec has.
func resolveLocaleStrings(spec *TestSpec, locale string) (LocaleStrings, bool) {
	if normalized := NormalizeLocale(locale); normalized != "" {
		if ls, ok := spec.Locales[normalized]; ok {
			return ls, true
		}
	}
	if ls, ok := spec.Locales[FallbackLocale]; ok {
		return ls, true
	}
	keys := make([]string, 0, len(spec.Locales))
	for key := range spec.Locales {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		return spec.Locales[keys[0]], true
	}
	return LocaleStrings{}, false
}

// TenantCatalog builds the localized catalog listing for one tenant. Tests
// missing usable copy are skipped rather than failing the listing.
func (c *Catalog) TenantCatalog(tenantID, locale string) []CatalogTest {
	ids := c.TenantTestIDs(tenantID)
	tests := make([]CatalogTest, 0, len(ids))
	for _, testID := range ids {
		spec := c.TestByID(testID)
		if spec == nil {
			continue
		}
		ls, ok := resolveLocaleStrings(spec, locale)
		if !ok {
			continue
		}
		tests = append(tests, CatalogTest{
			TestID:           spec.TestID,
			Slug:             spec.Slug,
			Title:            ls.Title,
			ShortDescription: ls.ShortDescription,
		})
	}
	return tests
}

// LocalizedTest flattens a test spec to one locale. Unlike the catalog
// listing this fails on missing copy: a partially translated runner is worse
// than a 404.
func (c *Catalog) LocalizedTest(testID, locale string) (*LocalizedTest, error) {
	spec := c.TestByID(testID)
	if spec == nil {
		return nil, fmt.Errorf("test %s not found", testID)
	}
	normalized := NormalizeLocale(locale)
	if normalized == "" {
		return nil, fmt.Errorf("unsupported locale %s for test %s", locale, testID)
	}
	ls, ok := spec.Locales[normalized]
	if !ok {
		return nil, fmt.Errorf("missing locale %s for test %s", normalized, testID)
	}

	questions := make([]LocalizedQuestion, 0, len(spec.Questions))
	for i, q := range spec.Questions {
		prompt := q.Prompt[normalized]
		if strings.TrimSpace(prompt) == "" {
			return nil, fmt.Errorf("missing localized value for %s at questions[%d].prompt.%s", testID, i, normalized)
		}
		options := make([]LocalizedOption, 0, len(q.Options))
		for j, opt := range q.Options {
			label := opt.Label[normalized]
			if strings.TrimSpace(label) == "" {
				return nil, fmt.Errorf("missing localized value for %s at questions[%d].options[%d].label.%s", testID, i, j, normalized)
			}
			options = append(options, LocalizedOption{ID: opt.ID, Label: label})
		}
		questions = append(questions, LocalizedQuestion{
			ID:      q.ID,
			Type:    q.Type,
			Prompt:  prompt,
			Options: options,
		})
	}

	return &LocalizedTest{
		TestID:          spec.TestID,
		Slug:            spec.Slug,
		Category:        spec.Category,
		Title:           ls.Title,
		Description:     ls.ShortDescription,
		Intro:           ls.Intro,
		PaywallHeadline: ls.PaywallHeadline,
		ReportTitle:     ls.ReportTitle,
		Questions:       questions,
		Scoring:         spec.Scoring,
		ResultBands:     spec.ResultBands,
		Locale:          normalized,
	}, nil
}

// Watch starts reloading the catalog when files under root change. Reload
// errors keep the previous snapshot and are logged, not fatal.
func (c *Catalog) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating content watcher: %w", err)
	}
	c.watcher = watcher

	dirs := []string{c.root, filepath.Join(c.root, "tests")}
	testsRoot := filepath.Join(c.root, "tests")
	if entries, err := os.ReadDir(testsRoot); err == nil {
		for _, entry := range entries {
			if entry.IsDir() {
				dirs = append(dirs, filepath.Join(testsRoot, entry.Name()))
			}
		}
	}
	for _, dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			log.Warn().Err(err).Str("path", dir).Msg("Failed to watch content directory")
		}
	}

	go c.watchLoop()
	log.Info().Str("root", c.root).Msg("Watching content for changes")
	return nil
}

func (c *Catalog) watchLoop() {
	// Editors fire bursts of events per save; coalesce before reloading.
	var pending <-chan time.Time
	for {
		select {
		case event, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) != 0 {
				pending = time.After(250 * time.Millisecond)
			}
		case <-pending:
			pending = nil
			if err := c.Reload(); err != nil {
				log.Error().Err(err).Msg("Content reload failed, keeping previous catalog")
				continue
			}
			log.Info().Msg("Content reloaded")
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Content watcher error")
		case <-c.stopChan:
			return
		}
	}
}

// Close stops the watcher if one was started.
func (c *Catalog) Close() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		if c.watcher != nil {
			c.watcher.Close()
		}
	})
}
