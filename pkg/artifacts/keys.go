package artifacts

import (
	"fmt"
	"strings"
)

// Sanitise maps an artifact name or version onto the character set safe
// for object-store keys. Alphanumerics plus "@/_.-" pass through, which
// keeps npm scopes (@babel/core) and Docker path components readable.
// Everything else becomes an underscore.
func Sanitise(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '@' || r == '/' || r == '_' || r == '.' || r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

// StorageKey builds the deterministic object-store key for an artifact.
// The same repository, name, and version always map to the same key, so
// re-caching after eviction lands on the same object.
func StorageKey(repoName, name, version string) string {
	return fmt.Sprintf("repositories/%s/%s/%s/artifact", repoName, Sanitise(name), Sanitise(version))
}
