package gatekit

import "strings"

// RouteClass is the authorization class of a request path.
type RouteClass int

const (
	// RouteUnclassified paths pass through with no auth decision.
	RouteUnclassified RouteClass = iota
	// RoutePublic paths are reachable without a session.
	RoutePublic
	// RouteProtected paths require a valid session and fail via redirect.
	RouteProtected
	// RouteAPI paths require a valid session and fail with JSON errors.
	RouteAPI
)

func (class RouteClass) String() string {
	switch class {
	case RoutePublic:
		return "public"
	case RouteProtected:
		return "protected"
	case RouteAPI:
		return "api"
	default:
		return "unclassified"
	}
}

// RouteTable maps locale-stripped path prefixes to route classes.
// It is immutable after construction and safe for concurrent reads.
type RouteTable struct {
	entries map[string]RouteClass
}

// NewRouteTable builds a table from prefix lists. API prefixes win over
// protected ones on equal length.
func NewRouteTable(publicPrefixes, protectedPrefixes, apiPrefixes []string) *RouteTable {
	entries := make(map[string]RouteClass)
	for _, prefix := range publicPrefixes {
		entries[normalizePrefix(prefix)] = RoutePublic
	}
	for _, prefix := range protectedPrefixes {
		entries[normalizePrefix(prefix)] = RouteProtected
	}
	for _, prefix := range apiPrefixes {
		entries[normalizePrefix(prefix)] = RouteAPI
	}
	return &RouteTable{entries: entries}
}

// DefaultRouteTable mirrors the application's route layout.
func DefaultRouteTable() *RouteTable {
	return NewRouteTable(
		[]string{"login", "auth/error", "auth/verify", "password-reset"},
		[]string{"dashboard", "profile", "settings"},
		[]string{"api", "api/tasks", "api/protected", "api/session", "api/me"},
	)
}

// Classify resolves the route class by longest-prefix match. Unmatched
// paths are unclassified.
func (table *RouteTable) Classify(routePath string) RouteClass {
	routePath = strings.Trim(routePath, "/")
	bestLength := -1
	bestClass := RouteUnclassified
	for prefix, class := range table.entries {
		if !prefixMatches(routePath, prefix) {
			continue
		}
		if len(prefix) > bestLength || (len(prefix) == bestLength && class == RouteAPI) {
			bestLength = len(prefix)
			bestClass = class
		}
	}
	return bestClass
}

func normalizePrefix(prefix string) string {
	return strings.Trim(prefix, "/")
}

func prefixMatches(routePath string, prefix string) bool {
	return routePath == prefix || strings.HasPrefix(routePath, prefix+"/")
}
