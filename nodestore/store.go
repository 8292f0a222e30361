// Package nodestore maps live document nodes to session-scoped integer
// identifiers and back.
//
// The same insertion order yields the same ids, which is what lets a record
// taken in one process address nodes materialised in another. A Store is
// not safe for concurrent use; it is touched only from the goroutine that
// owns the document.
package nodestore

import "golang.org/x/net/html"

// Store is an arena of node handles indexed by id, plus the reverse index.
type Store struct {
	nodes  map[int]*html.Node
	ids    map[*html.Node]int
	nextID int
}

// New creates an empty Store. The first id handed out is 1; 0 never
// identifies a node.
func New() *Store {
	s := &Store{}
	s.Clear()
	return s
}

// GetID returns the id of n, assigning the next free id on first use.
func (s *Store) GetID(n *html.Node) int {
	if n == nil {
		return 0
	}
	if id, ok := s.ids[n]; ok {
		return id
	}
	id := s.nextID
	s.nextID++
	s.nodes[id] = n
	s.ids[n] = id
	return id
}

// Lookup returns the id of n without assigning one.
func (s *Store) Lookup(n *html.Node) (int, bool) {
	id, ok := s.ids[n]
	return id, ok
}

// GetNode returns the node for id, or nil when id is unknown. Callers treat
// nil as "skip this mutation".
func (s *Store) GetNode(id int) *html.Node {
	return s.nodes[id]
}

// Bind registers n under an explicit id carried by a recorded payload.
// Later GetID calls never hand out an id at or below a bound one, so ids are
// not reused in the session.
func (s *Store) Bind(id int, n *html.Node) {
	if id <= 0 || n == nil {
		return
	}
	if old, ok := s.nodes[id]; ok {
		delete(s.ids, old)
	}
	if oldID, ok := s.ids[n]; ok {
		delete(s.nodes, oldID)
	}
	s.nodes[id] = n
	s.ids[n] = id
	if id >= s.nextID {
		s.nextID = id + 1
	}
}

// Len returns the number of tracked nodes.
func (s *Store) Len() int { return len(s.nodes) }

// Clear drops every mapping and restarts numbering at 1.
func (s *Store) Clear() {
	s.nodes = make(map[int]*html.Node)
	s.ids = make(map[*html.Node]int)
	s.nextID = 1
}
