package memory

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestTaxonomyStoreEnsureCategoryFirstWriterWins(t *testing.T) {
	store := NewTaxonomyStore()

	created, err := store.EnsureCategory(context.Background(), "factures", true)
	if err != nil {
		t.Fatalf("EnsureCategory() error = %v", err)
	}
	if !created {
		t.Fatalf("expected first writer to create the category")
	}

	created, err = store.EnsureCategory(context.Background(), "factures", false)
	if err != nil {
		t.Fatalf("EnsureCategory() second call error = %v", err)
	}
	if created {
		t.Fatalf("expected second writer to lose")
	}

	categories, err := store.ListCategories(context.Background())
	if err != nil {
		t.Fatalf("ListCategories() error = %v", err)
	}
	if len(categories) != 1 || !categories[0].IsBase {
		t.Fatalf("expected the first writer's entry to survive, got %+v", categories)
	}
}

func TestTaxonomyStoreConcurrentClaimSingleWinner(t *testing.T) {
	store := NewTaxonomyStore()
	if _, _, err := store.IncrementIssuer(context.Background(), "factures", "EDF"); err != nil {
		t.Fatalf("IncrementIssuer() error = %v", err)
	}

	const claimers = 16
	var wg sync.WaitGroup
	wins := make(chan bool, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := store.ClaimSubfolder(context.Background(), "factures", "EDF", time.Now())
			if err != nil {
				t.Errorf("ClaimSubfolder() error = %v", err)
				return
			}
			wins <- won
		}()
	}
	wg.Wait()
	close(wins)

	winners := 0
	for won := range wins {
		if won {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one winner, got %d", winners)
	}
}

func TestTaxonomyStoreDecrementNeverGoesNegative(t *testing.T) {
	store := NewTaxonomyStore()
	if _, _, err := store.IncrementIssuer(context.Background(), "factures", "EDF"); err != nil {
		t.Fatalf("IncrementIssuer() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := store.DecrementIssuer(context.Background(), "factures", "EDF"); err != nil {
			t.Fatalf("DecrementIssuer() error = %v", err)
		}
	}

	entry, err := store.GetIssuer(context.Background(), "factures", "EDF")
	if err != nil {
		t.Fatalf("GetIssuer() error = %v", err)
	}
	if entry.DocumentCount != 0 {
		t.Fatalf("expected count clamped at 0, got %d", entry.DocumentCount)
	}
}
