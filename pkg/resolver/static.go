package resolver

import (
	"context"
	"fmt"
	"sync"
)

// Static resolves DIDs from documents registered in memory.
type Static struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

func NewStatic(docs ...*Document) *Static {
	s := &Static{docs: make(map[string]*Document)}
	for _, d := range docs {
		s.Register(d)
	}
	return s
}

// Register adds or replaces a document. Methods without a controller are
// attributed to the document's DID.
func (s *Static) Register(doc *Document) {
	cp := *doc
	cp.VerificationMethods = make([]VerificationMethod, len(doc.VerificationMethods))
	copy(cp.VerificationMethods, doc.VerificationMethods)
	for i := range cp.VerificationMethods {
		if cp.VerificationMethods[i].Controller == "" {
			cp.VerificationMethods[i].Controller = cp.ID
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = &cp
}

// Remove deletes a document. Removing an unknown DID is a no-op.
func (s *Static) Remove(did string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs, did)
}

func (s *Static) Resolve(_ context.Context, did string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[did]
	if !ok {
		return nil, fmt.Errorf("%s: %w", did, ErrNotFound)
	}
	return doc, nil
}
