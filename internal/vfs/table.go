package vfs

import (
	"sort"
	"sync"
)

type dirKey struct {
	parent Inode
	name   string
}

// inodeTable owns every Node. All methods are safe for concurrent use;
// compound operations run under a single critical section so namespace
// checks and the mutation they guard cannot interleave with other callers.
type inodeTable struct {
	mu sync.Mutex

	nodes    map[Inode]*Node
	byName   map[dirKey]Inode
	children map[Inode][]Inode // ascending inode order

	// freeHint is at most the smallest unused inode number.
	freeHint Inode

	// busy reports inode numbers that must not be reused yet.
	busy func(Inode) bool
}

func newInodeTable(root *Node, busy func(Inode) bool) *inodeTable {
	root.Parent = noParent
	return &inodeTable{
		busy:     busy,
		nodes:    map[Inode]*Node{RootInode: root},
		byName:   make(map[dirKey]Inode),
		children: make(map[Inode][]Inode),
		freeHint: RootInode + 1,
	}
}

// allocate returns the smallest inode number that is neither in the table
// nor still held open by a handle on a removed entry. Callers hold t.mu.
func (t *inodeTable) allocate() (Inode, error) {
	var hint Inode
	for ino := t.freeHint; ino < MaxInodes; ino++ {
		if _, used := t.nodes[ino]; used {
			continue
		}
		if hint == 0 {
			hint = ino
		}
		if t.busy != nil && t.busy(ino) {
			continue
		}
		t.freeHint = hint
		return ino, nil
	}
	if hint == 0 {
		hint = MaxInodes
	}
	t.freeHint = hint
	return 0, ErrResourceExhausted
}

// insert links node under its parent. Callers hold t.mu and have
// checked the namespace invariants.
func (t *inodeTable) insert(ino Inode, node *Node) {
	t.nodes[ino] = node
	t.byName[dirKey{node.Parent, node.Name}] = ino

	siblings := t.children[node.Parent]
	i := sort.Search(len(siblings), func(i int) bool { return siblings[i] >= ino })
	siblings = append(siblings, 0)
	copy(siblings[i+1:], siblings[i:])
	siblings[i] = ino
	t.children[node.Parent] = siblings
}

// remove unlinks ino. Callers hold t.mu.
func (t *inodeTable) remove(ino Inode) *Node {
	node, ok := t.nodes[ino]
	if !ok {
		return nil
	}
	delete(t.nodes, ino)
	delete(t.byName, dirKey{node.Parent, node.Name})
	delete(t.children, ino)

	siblings := t.children[node.Parent]
	i := sort.Search(len(siblings), func(i int) bool { return siblings[i] >= ino })
	if i < len(siblings) && siblings[i] == ino {
		siblings = append(siblings[:i], siblings[i+1:]...)
	}
	if len(siblings) == 0 {
		delete(t.children, node.Parent)
	} else {
		t.children[node.Parent] = siblings
	}

	if ino < t.freeHint {
		t.freeHint = ino
	}
	return node
}

// resolve maps (parent, name) to an inode, honouring "." and "..".
// Callers hold t.mu.
func (t *inodeTable) resolve(parent Inode, name string) (Inode, bool) {
	switch name {
	case ".":
		_, ok := t.nodes[parent]
		return parent, ok
	case "..":
		node, ok := t.nodes[parent]
		if !ok || node.Parent == noParent {
			return 0, false
		}
		return node.Parent, true
	}
	ino, ok := t.byName[dirKey{parent, name}]
	return ino, ok
}

func (t *inodeTable) hasChildren(ino Inode) bool {
	return len(t.children[ino]) > 0
}

// createIfAbsent allocates an inode for node and links it under
// node.Parent, failing if the parent is missing or not a directory or the
// name is taken.
func (t *inodeTable) createIfAbsent(node *Node) (Inode, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	parent, ok := t.nodes[node.Parent]
	if !ok {
		return 0, ErrNotFound
	}
	if !parent.IsDir() {
		return 0, ErrNotDirectory
	}
	if _, taken := t.byName[dirKey{node.Parent, node.Name}]; taken {
		return 0, ErrAlreadyExists
	}

	ino, err := t.allocate()
	if err != nil {
		return 0, err
	}
	t.insert(ino, node)
	return ino, nil
}

// removeIfEmpty resolves (parent, name), applies check to the target and
// removes it when it has no children. The removed node is returned.
func (t *inodeTable) removeIfEmpty(parent Inode, name string, check func(*Node) error) (Inode, *Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if name == "." || name == ".." {
		return 0, nil, ErrInvalidArgument
	}
	ino, ok := t.byName[dirKey{parent, name}]
	if !ok {
		return 0, nil, ErrNotFound
	}
	node := t.nodes[ino]
	if err := check(node); err != nil {
		return ino, nil, err
	}
	if t.hasChildren(ino) {
		return ino, nil, ErrDirectoryNotEmpty
	}
	return ino, t.remove(ino), nil
}

// update runs fn on the node for ino under the table lock.
func (t *inodeTable) update(ino Inode, fn func(*Node) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[ino]
	if !ok {
		return ErrNotFound
	}
	return fn(node)
}

// lookup resolves (parent, name) and returns a copy of the target.
func (t *inodeTable) lookup(parent Inode, name string) (Inode, Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ino, ok := t.resolve(parent, name)
	if !ok {
		return 0, Node{}, ErrNotFound
	}
	node, ok := t.nodes[ino]
	if !ok {
		return 0, Node{}, ErrNotFound
	}
	return ino, *node, nil
}

// get returns a copy of the node for ino.
func (t *inodeTable) get(ino Inode) (Node, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[ino]
	if !ok {
		return Node{}, false
	}
	return *node, true
}

type childEntry struct {
	ino  Inode
	node Node
}

// childrenAfter returns copies of the children of parent whose inode is
// greater than cursor, in ascending inode order.
func (t *inodeTable) childrenAfter(parent Inode, cursor Inode) ([]childEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	node, ok := t.nodes[parent]
	if !ok {
		return nil, ErrNotFound
	}
	if !node.IsDir() {
		return nil, ErrNotDirectory
	}

	siblings := t.children[parent]
	start := sort.Search(len(siblings), func(i int) bool { return siblings[i] > cursor })
	entries := make([]childEntry, 0, len(siblings)-start)
	for _, ino := range siblings[start:] {
		entries = append(entries, childEntry{ino: ino, node: *t.nodes[ino]})
	}
	return entries, nil
}

// len returns the number of live inodes, root included.
func (t *inodeTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes)
}
