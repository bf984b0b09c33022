// Package filter implements the allow-lists applied while building snapshots
// and ingesting lifecycle events.
//
// Filter Logic:
//   - An empty list allows everything (it never means "deny all")
//   - Pool and event-source lists match exact names
//   - Thread lists match by name prefix
//
// Lists are immutable after construction so the aggregator and ingestor can
// share them across goroutines without locking.
package filter

import (
	"sort"
	"strings"

	lev "github.com/agnivade/levenshtein"
)

// AllowList is an exact-match set of names.
type AllowList struct {
	names map[string]struct{}
	order []string
}

// NewAllowList builds a list from raw entries, trimming whitespace and dropping
// blanks and duplicates.
func NewAllowList(entries []string) AllowList {
	list := AllowList{names: make(map[string]struct{}, len(entries))}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if _, ok := list.names[e]; ok {
			continue
		}
		list.names[e] = struct{}{}
		list.order = append(list.order, e)
	}
	return list
}

// Empty reports whether the list performs no filtering.
func (l AllowList) Empty() bool { return len(l.order) == 0 }

// Allows reports whether name passes the list.
func (l AllowList) Allows(name string) bool {
	if l.Empty() {
		return true
	}
	_, ok := l.names[name]
	return ok
}

// Entries returns the configured names in insertion order.
func (l AllowList) Entries() []string {
	out := make([]string, len(l.order))
	copy(out, l.order)
	return out
}

// PrefixList matches names that start with any configured prefix.
type PrefixList struct {
	prefixes []string
}

func NewPrefixList(entries []string) PrefixList {
	seen := make(map[string]struct{}, len(entries))
	var out []string
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if _, ok := seen[e]; ok {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return PrefixList{prefixes: out}
}

func (l PrefixList) Empty() bool { return len(l.prefixes) == 0 }

func (l PrefixList) Allows(name string) bool {
	if l.Empty() {
		return true
	}
	for _, p := range l.prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func (l PrefixList) Entries() []string {
	out := make([]string, len(l.prefixes))
	copy(out, l.prefixes)
	return out
}

// Config bundles the three allow-lists.
type Config struct {
	Pools          AllowList
	EventSources   AllowList
	ThreadPrefixes PrefixList
}

// NewConfig builds a Config from raw string slices.
func NewConfig(pools, eventSources, threadPrefixes []string) Config {
	return Config{
		Pools:          NewAllowList(pools),
		EventSources:   NewAllowList(eventSources),
		ThreadPrefixes: NewPrefixList(threadPrefixes),
	}
}

// Unmatched returns the entries of l that name none of the known values.
func (l AllowList) Unmatched(known []string) []string {
	if l.Empty() {
		return nil
	}
	set := make(map[string]struct{}, len(known))
	for _, k := range known {
		set[k] = struct{}{}
	}
	var out []string
	for _, e := range l.order {
		if _, ok := set[e]; !ok {
			out = append(out, e)
		}
	}
	return out
}

const maxSuggestDistance = 3

// Suggest returns the known value closest to name by edit distance, or "" when
// nothing is close enough to be a plausible typo.
func Suggest(name string, known []string) string {
	if name == "" || len(known) == 0 {
		return ""
	}
	candidates := make([]string, len(known))
	copy(candidates, known)
	sort.Strings(candidates)

	best := ""
	bestDist := maxSuggestDistance + 1
	lowered := strings.ToLower(name)
	for _, c := range candidates {
		d := lev.ComputeDistance(lowered, strings.ToLower(c))
		if d < bestDist {
			best = c
			bestDist = d
		}
	}
	if bestDist > maxSuggestDistance {
		return ""
	}
	return best
}
