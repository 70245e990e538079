package outline

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

type memNode struct {
	parentID string
	order    int
	text     string
}

// MemoryStore is an in-memory Store with the same semantics as the
// SQLite implementation. Used by tests and by hosts that keep the
// outline elsewhere.
type MemoryStore struct {
	mu     sync.Mutex
	nodes  map[string]*memNode
	pages  map[string]string // id -> title
	titles map[string]string // title -> id
}

// NewMemoryStore returns an empty in-memory outline store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nodes:  make(map[string]*memNode),
		pages:  make(map[string]string),
		titles: make(map[string]string),
	}
}

func (s *MemoryStore) GetNode(_ context.Context, id string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return "", false, nil
	}
	return n.text, true, nil
}

func (s *MemoryStore) CreateNode(_ context.Context, parentID string, order int, text, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.nodes[id]; exists {
		return fmt.Errorf("create node %s: id already exists", id)
	}
	if order == OrderLast {
		order = 0
		for _, n := range s.nodes {
			if n.parentID == parentID && n.order >= order {
				order = n.order + 1
			}
		}
	} else {
		for _, n := range s.nodes {
			if n.parentID == parentID && n.order >= order {
				n.order++
			}
		}
	}
	s.nodes[id] = &memNode{parentID: parentID, order: order, text: text}
	return nil
}

func (s *MemoryStore) UpdateNode(_ context.Context, id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.nodes[id]; ok {
		n.text = text
	}
	return nil
}

func (s *MemoryStore) MoveNode(_ context.Context, id, parentID string, order int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return fmt.Errorf("move node %s: no such node", id)
	}
	// Close the gap left behind.
	for cid, sib := range s.nodes {
		if cid != id && sib.parentID == n.parentID && sib.order > n.order {
			sib.order--
		}
	}
	if order == OrderLast {
		order = 0
		for cid, sib := range s.nodes {
			if cid != id && sib.parentID == parentID && sib.order >= order {
				order = sib.order + 1
			}
		}
	} else {
		for cid, sib := range s.nodes {
			if cid != id && sib.parentID == parentID && sib.order >= order {
				sib.order++
			}
		}
	}
	n.parentID = parentID
	n.order = order
	return nil
}

func (s *MemoryStore) DeleteNode(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteSubtree(id)
	return nil
}

func (s *MemoryStore) deleteSubtree(id string) {
	for cid, n := range s.nodes {
		if n.parentID == id {
			s.deleteSubtree(cid)
		}
	}
	delete(s.nodes, id)
}

func (s *MemoryStore) CreatePage(_ context.Context, title, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.titles[title]; exists {
		return fmt.Errorf("create page %q: title already exists", title)
	}
	s.pages[id] = title
	s.titles[title] = id
	return nil
}

func (s *MemoryStore) DeletePage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	title, ok := s.pages[id]
	if ok {
		delete(s.pages, id)
		delete(s.titles, title)
	}
	for cid, n := range s.nodes {
		if n.parentID == id {
			s.deleteSubtree(cid)
		}
	}
	return nil
}

func (s *MemoryStore) PageByTitle(_ context.Context, title string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.titles[title]
	return id, ok, nil
}

func (s *MemoryStore) ParentOf(_ context.Context, id string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return "", false, nil
	}
	if _, isNode := s.nodes[n.parentID]; !isNode {
		return "", false, nil
	}
	return n.parentID, true, nil
}

func (s *MemoryStore) PageOf(_ context.Context, id string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return "", false, nil
	}
	for {
		if _, isNode := s.nodes[n.parentID]; !isNode {
			if _, isPage := s.pages[n.parentID]; isPage {
				return n.parentID, true, nil
			}
			return "", false, nil
		}
		n = s.nodes[n.parentID]
	}
}

func (s *MemoryStore) ChildrenOf(_ context.Context, id string) ([]Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Node
	for cid, n := range s.nodes {
		if n.parentID == id {
			out = append(out, Node{ID: cid, Order: n.order, Text: n.text})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryStore) AncestorsMatching(ctx context.Context, scopeID string, match func(string) bool) ([]string, error) {
	return collectMatching(ctx, s, scopeID, match)
}

func (s *MemoryStore) SubtreeText(ctx context.Context, id string) (TextTree, bool, error) {
	return buildSubtree(ctx, s, id)
}
