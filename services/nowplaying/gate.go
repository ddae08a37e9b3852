package nowplaying

import "spotify-util-go/store"

// LookupPath is the route an identifier arrived through
type LookupPath int

const (
	// PathID is the provider account id route
	PathID LookupPath = iota
	// PathSlug is the owner-chosen custom slug route
	PathSlug
)

func (p LookupPath) String() string {
	if p == PathSlug {
		return "slug"
	}
	return "id"
}

// IsAccessAllowed decides whether identifier may resolve rec through path.
//
// A private record never resolves through the id path, even when the id is
// correct. Through the slug path a record resolves when its slug is the
// identifier, or when it is public anyway. With no record, the id path is open
// and the slug path has nothing to match.
func IsAccessAllowed(identifier string, path LookupPath, rec *store.PreferenceRecord) bool {
	if rec == nil {
		return path == PathID
	}

	switch path {
	case PathSlug:
		if rec.CustomSlug == identifier {
			return true
		}
		return rec.IsPublic
	default:
		return rec.IsPublic
	}
}
