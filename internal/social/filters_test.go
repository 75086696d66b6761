package social

import "testing"

func TestFilterMatches(t *testing.T) {
	cases := []struct {
		name   string
		filter Filter
		slugs  []string
		want   bool
	}{
		{"empty filter matches all", Filter{}, []string{"tech"}, true},
		{"empty filter matches untagged", Filter{}, nil, true},
		{"include any-of", Filter{Include: []string{"tech", "golang"}}, []string{"golang"}, true},
		{"include miss", Filter{Include: []string{"tech"}}, []string{"travel"}, false},
		{"include with no tags", Filter{Include: []string{"tech"}}, nil, false},
		{"exclude wins", Filter{Include: []string{"tech"}, Exclude: []string{"private"}}, []string{"tech", "private"}, false},
		{"exclude alone", Filter{Exclude: []string{"private"}}, []string{"tech"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.filter.Matches(tc.slugs); got != tc.want {
				t.Fatalf("Matches(%v) = %v, want %v", tc.slugs, got, tc.want)
			}
		})
	}
}

func TestSanitize(t *testing.T) {
	cases := []struct {
		msg  string
		want string
	}{
		{"invalid access token", "Authentication failed"},
		{"credential rejected", "Authentication failed"},
		{"context deadline exceeded", "Request timed out"},
		{"dial tcp: connection refused", "Connection error"},
		{"rate limit exceeded, retry later", "Rate limit exceeded"},
		{"status not found (404)", "Resource not found"},
		{"forbidden", "Permission denied"},
		{"disk exploded at /var/lib/posse", "Service temporarily unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.want, func(t *testing.T) {
			if got := Sanitize(errString(tc.msg)); got != tc.want {
				t.Fatalf("Sanitize(%q) = %q, want %q", tc.msg, got, tc.want)
			}
		})
	}
	if got := Sanitize(nil); got != "" {
		t.Fatalf("Sanitize(nil) = %q, want empty", got)
	}
}

type errString string

func (e errString) Error() string { return string(e) }
