// Package groups resolves a requested target name onto the ordered list
// of repositories that may serve it.
package groups

import (
	"context"
	"errors"
	"fmt"

	"github.com/brunocascio/amargo/pkg/metastore"
	"github.com/brunocascio/amargo/pkg/registry"
)

// Resolver expands group names into their ordered member repositories.
type Resolver struct {
	meta metastore.Store
}

// NewResolver creates a resolver over the metadata store.
func NewResolver(meta metastore.Store) *Resolver {
	return &Resolver{meta: meta}
}

// Resolve maps target onto candidate repositories. A group name yields
// its members ordered by (priority asc, name asc); a repository name
// yields just that repository. Disabled repositories and members of a
// different format are filtered out. An existing target whose every
// candidate is filtered resolves to an empty, non-error list.
func (r *Resolver) Resolve(ctx context.Context, target string, format registry.Format) ([]*registry.Repository, error) {
	group, err := r.meta.GetGroup(ctx, target)
	switch {
	case err == nil:
		if group.Format != format {
			return nil, fmt.Errorf("group %q serves %s, not %s: %w", target, group.Format, format, registry.ErrNotFound)
		}
		members, err := r.meta.GroupMemberRepositories(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("resolve group %q: %w", target, err)
		}
		return filter(members, format), nil

	case errors.Is(err, registry.ErrNotFound):
		repo, err := r.meta.GetRepositoryByName(ctx, target)
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", target, err)
		}
		return filter([]*registry.Repository{repo}, format), nil

	default:
		return nil, fmt.Errorf("resolve %q: %w", target, err)
	}
}

func filter(repos []*registry.Repository, format registry.Format) []*registry.Repository {
	out := make([]*registry.Repository, 0, len(repos))
	for _, repo := range repos {
		if repo.Enabled && repo.Format == format {
			out = append(out, repo)
		}
	}
	return out
}
