package engine

import (
	"slices"

	"github.com/satindergrewal/clipdeck/internal/config"
)

// RecentCapacity is the number of remembered clip list files.
const RecentCapacity = 11

// RecentList is a most-recent-first list of distinct paths.
type RecentList struct {
	paths []string
}

// NewRecentList builds a list from paths in order, skipping empties and
// duplicates.
func NewRecentList(paths ...string) *RecentList {
	r := &RecentList{}
	for _, p := range paths {
		if p == "" || slices.Contains(r.paths, p) || len(r.paths) == RecentCapacity {
			continue
		}
		r.paths = append(r.paths, p)
	}
	return r
}

// LoadRecentList reads recentlyUsedPath0..10 from the store.
func LoadRecentList(store config.Store) *RecentList {
	var paths []string
	for i := 0; i < RecentCapacity; i++ {
		if p, ok := store.Get(config.RecentKey(i)); ok {
			paths = append(paths, p)
		}
	}
	return NewRecentList(paths...)
}

// Save writes the list to the store, clearing unused keys.
func (r *RecentList) Save(store config.Store) {
	for i := 0; i < RecentCapacity; i++ {
		v := ""
		if i < len(r.paths) {
			v = r.paths[i]
		}
		store.Set(config.RecentKey(i), v)
	}
}

// Push moves path to the front, evicting the oldest entry when full. It
// reports whether the list changed.
func (r *RecentList) Push(path string) bool {
	if path == "" {
		return false
	}
	if len(r.paths) > 0 && r.paths[0] == path {
		return false
	}
	if i := slices.Index(r.paths, path); i >= 0 {
		r.paths = slices.Delete(r.paths, i, i+1)
	}
	r.paths = slices.Insert(r.paths, 0, path)
	if len(r.paths) > RecentCapacity {
		r.paths = r.paths[:RecentCapacity]
	}
	return true
}

// Remove drops path and reports whether it was present.
func (r *RecentList) Remove(path string) bool {
	i := slices.Index(r.paths, path)
	if i < 0 {
		return false
	}
	r.paths = slices.Delete(r.paths, i, i+1)
	return true
}

// At returns the i-th most recent path.
func (r *RecentList) At(i int) (string, bool) {
	if i < 0 || i >= len(r.paths) {
		return "", false
	}
	return r.paths[i], true
}

func (r *RecentList) Len() int { return len(r.paths) }

// Paths returns a copy of the list.
func (r *RecentList) Paths() []string {
	return slices.Clone(r.paths)
}
