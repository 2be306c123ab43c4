// Package memory holds an in-process taxonomy store for single-node
// deployments and tests. Semantics mirror the postgres store: inserts are
// first-writer-wins and the subfolder claim has exactly one winner.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mlejeune/papierflow/internal/core/domain"
)

type TaxonomyStore struct {
	mu         sync.Mutex
	categories map[string]*domain.CategoryEntry
	issuers    map[string]*domain.IssuerEntry
}

func NewTaxonomyStore() *TaxonomyStore {
	return &TaxonomyStore{
		categories: make(map[string]*domain.CategoryEntry),
		issuers:    make(map[string]*domain.IssuerEntry),
	}
}

func issuerKey(category, issuer string) string {
	return category + "\x00" + issuer
}

func (s *TaxonomyStore) EnsureCategory(_ context.Context, name string, isBase bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.categories[name]; ok {
		return false, nil
	}
	s.categories[name] = &domain.CategoryEntry{
		Name:      name,
		IsBase:    isBase,
		CreatedAt: time.Now().UTC(),
	}
	return true, nil
}

func (s *TaxonomyStore) ListCategories(_ context.Context) ([]domain.CategoryEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]domain.CategoryEntry, 0, len(s.categories))
	for _, entry := range s.categories {
		entries = append(entries, *entry)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

func (s *TaxonomyStore) IncrementCategory(_ context.Context, name string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.categories[name]
	if !ok {
		return fmt.Errorf("increment category: unknown category %q", name)
	}
	entry.DocumentCount += delta
	if entry.DocumentCount < 0 {
		entry.DocumentCount = 0
	}
	return nil
}

func (s *TaxonomyStore) IncrementIssuer(_ context.Context, category, issuer string) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := issuerKey(category, issuer)
	entry, ok := s.issuers[key]
	if !ok {
		entry = &domain.IssuerEntry{CategoryName: category, IssuerKey: issuer}
		s.issuers[key] = entry
	}
	entry.DocumentCount++
	return entry.DocumentCount, entry.HasSubfolder, nil
}

func (s *TaxonomyStore) DecrementIssuer(_ context.Context, category, issuer string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.issuers[issuerKey(category, issuer)]
	if !ok {
		return nil
	}
	if entry.DocumentCount > 0 {
		entry.DocumentCount--
	}
	return nil
}

func (s *TaxonomyStore) ClaimSubfolder(_ context.Context, category, issuer string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.issuers[issuerKey(category, issuer)]
	if !ok {
		return false, fmt.Errorf("claim subfolder: unknown issuer %q/%q", category, issuer)
	}
	if entry.HasSubfolder {
		return false, nil
	}
	entry.HasSubfolder = true
	stamp := at
	entry.SubfolderCreatedAt = &stamp
	return true, nil
}

func (s *TaxonomyStore) GetIssuer(_ context.Context, category, issuer string) (*domain.IssuerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.issuers[issuerKey(category, issuer)]
	if !ok {
		return nil, domain.WrapError(domain.ErrDocumentNotFound, "get issuer", fmt.Errorf("category=%s issuer=%s", category, issuer))
	}
	snapshot := *entry
	return &snapshot, nil
}
