// Package registry defines the domain model shared by every component:
// repositories, groups, artifacts, cache entries, download events, and the
// error taxonomy the HTTP layer maps onto status codes.
package registry
