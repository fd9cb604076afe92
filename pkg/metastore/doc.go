// Package metastore defines the relational metadata index contract:
// repositories, groups and their memberships, artifacts, cache entries,
// and download events. The in-memory implementation here backs unit tests
// and the dev profile; pkg/metastore/postgres is the production
// implementation.
package metastore
