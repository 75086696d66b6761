package social

// Filter selects posts for an account by tag slug. An empty filter matches
// every post. Exclusions win over inclusions.
type Filter struct {
	Include []string
	Exclude []string
}

// Matches reports whether a post with the given tag slugs should go to the
// account. Include is OR logic: any one match is enough.
func (f Filter) Matches(slugs []string) bool {
	set := make(map[string]struct{}, len(slugs))
	for _, s := range slugs {
		set[s] = struct{}{}
	}
	for _, ex := range f.Exclude {
		if _, ok := set[ex]; ok {
			return false
		}
	}
	if len(f.Include) == 0 {
		return true
	}
	for _, in := range f.Include {
		if _, ok := set[in]; ok {
			return true
		}
	}
	return false
}
