package registry

import (
	"fmt"
	"time"
)

// Format identifies the package ecosystem a repository serves.
type Format string

const (
	FormatNPM     Format = "npm"
	FormatPyPI    Format = "pypi"
	FormatDocker  Format = "docker"
	FormatGo      Format = "go"
	FormatMaven   Format = "maven"
	FormatNuGet   Format = "nuget"
	FormatGeneric Format = "generic"
)

// Valid reports whether f is a known format.
func (f Format) Valid() bool {
	switch f {
	case FormatNPM, FormatPyPI, FormatDocker, FormatGo, FormatMaven, FormatNuGet, FormatGeneric:
		return true
	}
	return false
}

// RepoType identifies how a repository sources its artifacts.
type RepoType string

const (
	// TypeHosted repositories hold locally stored artifacts and have no upstream.
	TypeHosted RepoType = "hosted"
	// TypeProxy repositories pull through from a configured upstream registry.
	TypeProxy RepoType = "proxy"
	// TypeGroup repositories fan out over ordered members; they hold no
	// artifacts themselves (see Group).
	TypeGroup RepoType = "group"
)

// Valid reports whether t is a known repository type.
func (t RepoType) Valid() bool {
	return t == TypeHosted || t == TypeProxy || t == TypeGroup
}

// Credentials are opaque upstream credentials for a proxy repository.
type Credentials struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// Empty reports whether no credentials are set.
func (c Credentials) Empty() bool {
	return c.Username == "" && c.Password == ""
}

// Repository is a named, typed, single-format artifact source.
type Repository struct {
	ID          int64        `json:"id"`
	Name        string       `json:"name"`
	Format      Format       `json:"format"`
	Type        RepoType     `json:"type"`
	UpstreamURL string       `json:"upstream_url,omitempty"`
	Credentials *Credentials `json:"-"`
	// CacheTTLSeconds is the default TTL applied to artifacts cached into
	// this repository. Zero means the global default.
	CacheTTLSeconds int64     `json:"cache_ttl_seconds"`
	Enabled         bool      `json:"enabled"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// Validate checks the repository invariants: a proxy needs an upstream, a
// hosted repository must not have one.
func (r *Repository) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("repository name is required")
	}
	if !r.Format.Valid() {
		return fmt.Errorf("repository %q: invalid format %q", r.Name, r.Format)
	}
	if !r.Type.Valid() {
		return fmt.Errorf("repository %q: invalid type %q", r.Name, r.Type)
	}
	if r.Type == TypeProxy && r.UpstreamURL == "" {
		return fmt.Errorf("repository %q: proxy requires an upstream URL", r.Name)
	}
	if r.Type == TypeHosted && r.UpstreamURL != "" {
		return fmt.Errorf("repository %q: hosted must not have an upstream URL", r.Name)
	}
	return nil
}

// CacheTTL returns the repository TTL as a duration, falling back to def
// when unset.
func (r *Repository) CacheTTL(def time.Duration) time.Duration {
	if r.CacheTTLSeconds > 0 {
		return time.Duration(r.CacheTTLSeconds) * time.Second
	}
	return def
}

// Group is a priority-ordered fan-out over repositories of one format.
type Group struct {
	ID        int64         `json:"id"`
	Name      string        `json:"name"`
	Format    Format        `json:"format"`
	Members   []GroupMember `json:"members"`
	CreatedAt time.Time     `json:"created_at"`
}

// GroupMember pairs a member repository with its priority. Smaller
// priority is tried first; ties break by repository name ascending.
type GroupMember struct {
	RepositoryID   int64  `json:"repository_id"`
	RepositoryName string `json:"repository_name"`
	Priority       int    `json:"priority"`
}

// Artifact is a stored blob plus its metadata row.
type Artifact struct {
	ID           int64             `json:"id"`
	RepositoryID int64             `json:"repository_id"`
	Name         string            `json:"name"`
	Version      string            `json:"version"`
	StorageKey   string            `json:"storage_key"`
	Size         int64             `json:"size"`
	// Digest is the lower-case hex SHA-256 of the stored bytes. It is
	// exposed to clients as the ETag.
	Digest      string            `json:"digest"`
	ContentType string            `json:"content_type"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	// TTLSeconds overrides the repository TTL when positive.
	TTLSeconds     int64     `json:"ttl_seconds,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// CacheEntry is the TTL stamp on a stored artifact.
type CacheEntry struct {
	// Key is "<repo-id>:<name>:<version>".
	Key          string    `json:"key"`
	RepositoryID int64     `json:"repository_id"`
	StorageKey   string    `json:"storage_key"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// CacheEntryKey builds the canonical cache-entry key.
func CacheEntryKey(repositoryID int64, name, version string) string {
	return fmt.Sprintf("%d:%s:%s", repositoryID, name, version)
}

// DownloadEvent is an append-only audit row. It is never read on the
// serving path and writes may be dropped under pressure.
type DownloadEvent struct {
	ID           string    `json:"id"`
	RepositoryID int64     `json:"repository_id"`
	Name         string    `json:"name"`
	Version      string    `json:"version"`
	ClientIP     string    `json:"client_ip,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}
