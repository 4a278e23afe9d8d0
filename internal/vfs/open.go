package vfs

import "sync"

// openCounts tracks open handles per inode. Counts are not floored and
// reaching zero removes nothing. An inode number with a positive count is
// not reallocated, so a handle left open on a removed entry never reaches
// a newer entry.
type openCounts struct {
	mu     sync.Mutex
	counts map[Inode]int
}

func newOpenCounts() *openCounts {
	return &openCounts{counts: make(map[Inode]int)}
}

func (o *openCounts) open(ino Inode) Handle {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counts[ino]++
	return Handle(ino)
}

// release decrements the count for h and returns the new value.
func (o *openCounts) release(h Handle) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.counts[Inode(h)]--
	return o.counts[Inode(h)]
}

func (o *openCounts) count(ino Inode) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.counts[ino]
}

// busy reports whether ino still has open handles.
func (o *openCounts) busy(ino Inode) bool {
	return o.count(ino) > 0
}
