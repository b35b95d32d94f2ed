package gatekit

import "strings"

// SupportedLocales is the fixed locale set recognized in the first path segment.
var SupportedLocales = []string{"pt", "en", "es"}

// DefaultLocale applies when the first segment is absent or unrecognized.
const DefaultLocale = "pt"

// SplitLocale extracts the locale from the path's first segment and returns
// the remaining route path without a leading slash. An unrecognized first
// segment stays part of the route path.
func SplitLocale(path string) (string, string) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return DefaultLocale, ""
	}
	segments := strings.SplitN(trimmed, "/", 2)
	for _, locale := range SupportedLocales {
		if segments[0] == locale {
			if len(segments) == 2 {
				return locale, segments[1]
			}
			return locale, ""
		}
	}
	return DefaultLocale, trimmed
}
