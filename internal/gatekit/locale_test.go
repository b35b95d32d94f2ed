package gatekit

import "testing"

func TestSplitLocale(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name          string
		path          string
		wantLocale    string
		wantRoutePath string
	}{
		{name: "recognized locale stripped", path: "/en/dashboard", wantLocale: "en", wantRoutePath: "dashboard"},
		{name: "missing locale defaults", path: "/dashboard", wantLocale: "pt", wantRoutePath: "dashboard"},
		{name: "unrecognized locale kept in path", path: "/xx/dashboard", wantLocale: "pt", wantRoutePath: "xx/dashboard"},
		{name: "bare locale", path: "/es", wantLocale: "es", wantRoutePath: ""},
		{name: "root", path: "/", wantLocale: "pt", wantRoutePath: ""},
		{name: "nested api path", path: "/api/tasks/42", wantLocale: "pt", wantRoutePath: "api/tasks/42"},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			locale, routePath := SplitLocale(testCase.path)
			if locale != testCase.wantLocale {
				t.Fatalf("expected locale %q, got %q", testCase.wantLocale, locale)
			}
			if routePath != testCase.wantRoutePath {
				t.Fatalf("expected route path %q, got %q", testCase.wantRoutePath, routePath)
			}
		})
	}
}

func TestClassifyLongestPrefix(t *testing.T) {
	t.Parallel()

	table := DefaultRouteTable()

	cases := []struct {
		routePath string
		want      RouteClass
	}{
		{routePath: "login", want: RoutePublic},
		{routePath: "auth/error", want: RoutePublic},
		{routePath: "dashboard", want: RouteProtected},
		{routePath: "dashboard/archive", want: RouteProtected},
		{routePath: "api/tasks", want: RouteAPI},
		{routePath: "api/tasks/42", want: RouteAPI},
		{routePath: "api/protected", want: RouteAPI},
		{routePath: "api/unlisted", want: RouteAPI},
		{routePath: "xx/dashboard", want: RouteUnclassified},
		{routePath: "", want: RouteUnclassified},
		{routePath: "dashboards", want: RouteUnclassified},
	}

	for _, testCase := range cases {
		if got := table.Classify(testCase.routePath); got != testCase.want {
			t.Fatalf("Classify(%q) = %s, want %s", testCase.routePath, got, testCase.want)
		}
	}
}
