package proc

import "sort"

// argWindow is the ordered-by-key map send_message's region search and
// cleanup walk: original_source keeps method_call_argument_memory as a
// btree_map<VirtualAddress, memory_area> exactly so that region lookup and
// insertion see entries in address order; a sorted slice gives the same
// ordering guarantee without needing a generic tree type.
type argWindow struct {
	keys    []uint64
	regions []MemoryArea
}

func newArgWindow() *argWindow { return &argWindow{} }

// insert adds or replaces the entry at region.Virt.
func (w *argWindow) insert(region MemoryArea) {
	key := uint64(region.Virt)
	i := sort.Search(len(w.keys), func(i int) bool { return w.keys[i] >= key })
	if i < len(w.keys) && w.keys[i] == key {
		w.regions[i] = region
		return
	}
	w.keys = append(w.keys, 0)
	w.regions = append(w.regions, MemoryArea{})
	copy(w.keys[i+1:], w.keys[i:])
	copy(w.regions[i+1:], w.regions[i:])
	w.keys[i] = key
	w.regions[i] = region
}

// remove deletes the entry at key, if present.
func (w *argWindow) remove(key uint64) {
	i := sort.Search(len(w.keys), func(i int) bool { return w.keys[i] >= key })
	if i >= len(w.keys) || w.keys[i] != key {
		return
	}
	w.keys = append(w.keys[:i], w.keys[i+1:]...)
	w.regions = append(w.regions[:i], w.regions[i+1:]...)
}

// iterate visits every entry in key order, stopping early if visit
// returns false.
func (w *argWindow) iterate(visit func(MemoryArea) bool) {
	for _, r := range w.regions {
		if !visit(r) {
			return
		}
	}
}

// len reports the number of mapped regions.
func (w *argWindow) len() int { return len(w.regions) }
