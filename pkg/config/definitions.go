package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/brunocascio/amargo/pkg/metastore"
	"github.com/brunocascio/amargo/pkg/observability"
	"github.com/brunocascio/amargo/pkg/registry"
)

// Definitions declares repositories and groups in YAML. The file is the
// source of truth for what the proxy serves; applying it is idempotent.
type Definitions struct {
	Repositories []RepositoryDefinition `yaml:"repositories"`
	Groups       []GroupDefinition      `yaml:"groups"`
}

// RepositoryDefinition is one repository entry in the definitions file.
type RepositoryDefinition struct {
	Name        string `yaml:"name"`
	Format      string `yaml:"format"`
	Type        string `yaml:"type"`
	UpstreamURL string `yaml:"upstream_url"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	CacheTTL    string `yaml:"cache_ttl"`
	// Disabled flips the default; absent means enabled.
	Disabled bool `yaml:"disabled"`
}

// GroupDefinition is one group entry in the definitions file. Member
// order in the list is the resolution priority.
type GroupDefinition struct {
	Name    string   `yaml:"name"`
	Format  string   `yaml:"format"`
	Members []string `yaml:"members"`
}

// LoadDefinitions reads and parses a definitions file.
func LoadDefinitions(path string) (*Definitions, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read definitions %s: %w", path, err)
	}

	var defs Definitions
	if err := yaml.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("parse definitions %s: %w", path, err)
	}

	if err := defs.Validate(); err != nil {
		return nil, fmt.Errorf("definitions %s: %w", path, err)
	}
	return &defs, nil
}

// Validate checks every declared repository and group before anything is
// applied, so a bad file is rejected as a whole.
func (d *Definitions) Validate() error {
	names := make(map[string]bool, len(d.Repositories))
	for i := range d.Repositories {
		def := &d.Repositories[i]
		if names[def.Name] {
			return fmt.Errorf("duplicate repository %q", def.Name)
		}
		names[def.Name] = true

		repo, err := def.repository()
		if err != nil {
			return err
		}
		if err := repo.Validate(); err != nil {
			return err
		}
	}

	for _, group := range d.Groups {
		if group.Name == "" {
			return fmt.Errorf("group name is required")
		}
		if !registry.Format(group.Format).Valid() {
			return fmt.Errorf("group %q: invalid format %q", group.Name, group.Format)
		}
		if len(group.Members) == 0 {
			return fmt.Errorf("group %q has no members", group.Name)
		}
		for _, member := range group.Members {
			if !names[member] {
				return fmt.Errorf("group %q references unknown repository %q", group.Name, member)
			}
		}
	}
	return nil
}

func (def *RepositoryDefinition) repository() (*registry.Repository, error) {
	repo := &registry.Repository{
		Name:        def.Name,
		Format:      registry.Format(def.Format),
		Type:        registry.RepoType(def.Type),
		UpstreamURL: def.UpstreamURL,
		Enabled:     !def.Disabled,
	}
	if def.Username != "" || def.Password != "" {
		repo.Credentials = &registry.Credentials{Username: def.Username, Password: def.Password}
	}
	if def.CacheTTL != "" {
		ttl, err := time.ParseDuration(def.CacheTTL)
		if err != nil {
			return nil, fmt.Errorf("repository %q: invalid cache_ttl %q: %w", def.Name, def.CacheTTL, err)
		}
		repo.CacheTTLSeconds = int64(ttl.Seconds())
	}
	return repo, nil
}

// Apply upserts every declared repository and group into the metadata
// store. Repositories go first so groups can resolve their members.
func (d *Definitions) Apply(ctx context.Context, meta metastore.Store) error {
	for i := range d.Repositories {
		repo, err := d.Repositories[i].repository()
		if err != nil {
			return err
		}
		if err := meta.UpsertRepository(ctx, repo); err != nil {
			return fmt.Errorf("upsert repository %q: %w", repo.Name, err)
		}
	}

	for _, def := range d.Groups {
		group := &registry.Group{
			Name:   def.Name,
			Format: registry.Format(def.Format),
		}
		for priority, member := range def.Members {
			group.Members = append(group.Members, registry.GroupMember{
				RepositoryName: member,
				Priority:       priority,
			})
		}
		if err := meta.UpsertGroup(ctx, group); err != nil {
			return fmt.Errorf("upsert group %q: %w", group.Name, err)
		}
	}
	return nil
}

// Watcher reloads the definitions file when it changes on disk.
type Watcher struct {
	path    string
	meta    metastore.Store
	logger  *observability.Logger
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewWatcher starts watching path and applies the file on every change.
// The containing directory is watched rather than the file itself;
// editors and configmap mounts replace the file by rename.
func NewWatcher(path string, meta metastore.Store, logger *observability.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		path:    path,
		meta:    meta,
		logger:  logger.WithField("component", "config-watcher"),
		watcher: fsw,
		done:    make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	var pending <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Debounce; a save often arrives as several events.
			pending = time.After(200 * time.Millisecond)

		case <-pending:
			pending = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("definitions watcher error")
		}
	}
}

// reload re-reads and applies the file. A broken file keeps the
// previous definitions in place.
func (w *Watcher) reload() {
	defs, err := LoadDefinitions(w.path)
	if err != nil {
		w.logger.WithError(err).Error("definitions reload failed, keeping previous state")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := defs.Apply(ctx, w.meta); err != nil {
		w.logger.WithError(err).Error("definitions apply failed")
		return
	}
	w.logger.WithFields(map[string]interface{}{
		"repositories": len(defs.Repositories),
		"groups":       len(defs.Groups),
	}).Info("definitions reloaded")
}

// Close stops the watcher and waits for the loop to exit.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
