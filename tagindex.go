package tiercache

import "sync"

// tagIndex maps tags to the set of keys written under them. Each tier owns
// its own index; there is no cross-tier tag state. Updates are not atomic
// with concurrent writes for the same tag, so tag removal is
// at-least-once: a Set racing a RemoveByTag may land after the sweep.
type tagIndex struct {
	mu   sync.RWMutex
	tags map[string]map[string]struct{}
}

func newTagIndex() *tagIndex {
	return &tagIndex{tags: make(map[string]map[string]struct{})}
}

func (ti *tagIndex) add(key string, tags []string) {
	if len(tags) == 0 {
		return
	}
	ti.mu.Lock()
	for _, tag := range tags {
		set, ok := ti.tags[tag]
		if !ok {
			set = make(map[string]struct{})
			ti.tags[tag] = set
		}
		set[key] = struct{}{}
	}
	ti.mu.Unlock()
}

func (ti *tagIndex) keys(tag string) []string {
	ti.mu.RLock()
	set := ti.tags[tag]
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	ti.mu.RUnlock()
	return out
}

// drop removes the tag entirely and returns the keys it indexed.
func (ti *tagIndex) drop(tag string) []string {
	ti.mu.Lock()
	set := ti.tags[tag]
	delete(ti.tags, tag)
	ti.mu.Unlock()

	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	return out
}

// forget removes one key from every tag set, pruning emptied tags.
func (ti *tagIndex) forget(key string) {
	ti.mu.Lock()
	for tag, set := range ti.tags {
		if _, ok := set[key]; ok {
			delete(set, key)
			if len(set) == 0 {
				delete(ti.tags, tag)
			}
		}
	}
	ti.mu.Unlock()
}

func (ti *tagIndex) clear() {
	ti.mu.Lock()
	ti.tags = make(map[string]map[string]struct{})
	ti.mu.Unlock()
}
