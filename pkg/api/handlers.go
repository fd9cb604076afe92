package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/brunocascio/amargo/pkg/httputil"
)

// listRepositories returns every configured repository.
func (s *Server) listRepositories(w http.ResponseWriter, r *http.Request) {
	repos, err := s.meta.ListRepositories(r.Context())
	if err != nil {
		httputil.WriteRegistryError(w, err)
		return
	}
	httputil.WriteSuccess(w, repos)
}

// getRepository returns one repository by name.
func (s *Server) getRepository(w http.ResponseWriter, r *http.Request) {
	repo, err := s.meta.GetRepositoryByName(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		httputil.WriteRegistryError(w, err)
		return
	}
	httputil.WriteSuccess(w, repo)
}

// getGroup returns one group with its ordered members.
func (s *Server) getGroup(w http.ResponseWriter, r *http.Request) {
	group, err := s.meta.GetGroup(r.Context(), mux.Vars(r)["name"])
	if err != nil {
		httputil.WriteRegistryError(w, err)
		return
	}
	httputil.WriteSuccess(w, group)
}

// leastRecentlyAccessed lists the coldest cached artifacts, the ones the
// eviction loop would reclaim first.
func (s *Server) leastRecentlyAccessed(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", 50)
	if err != nil || limit <= 0 || limit > 1000 {
		httputil.WriteBadRequest(w, "limit must be an integer between 1 and 1000")
		return
	}

	artifacts, err := s.meta.LeastRecentlyAccessed(r.Context(), limit)
	if err != nil {
		httputil.WriteRegistryError(w, err)
		return
	}
	httputil.WriteSuccess(w, artifacts)
}
