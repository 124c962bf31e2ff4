package retrieval

import (
	"context"
	"testing"
)

func corpus() []Doc {
	return []Doc{
		{ID: "BRG-2204", Title: "BRG-2204 tapered roller bearing", URL: "https://parts.example.com/brg-2204", Content: "Tapered roller bearing, bore 20mm, dynamic load 28kN. Torque spec 45Nm."},
		{ID: "NE555", Title: "NE555 precision timer", URL: "https://parts.example.com/ne555", Content: "Monolithic timing circuit, astable and monostable operation, 4.5V to 16V supply."},
		{ID: "DOC-GO", Title: "Go concurrency guide", URL: "https://docs.example.com/go", Content: "Goroutines, channels, and the sync package explained with examples."},
	}
}

func TestRetrieveRanksIdentifierMatchFirst(t *testing.T) {
	r := NewMemoryRetriever(corpus())

	docs, err := r.Retrieve(context.Background(), "torque spec for BRG-2204", 3)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(docs) == 0 {
		t.Fatal("no documents returned")
	}
	if docs[0].ID != "BRG-2204" {
		t.Errorf("top doc = %s, want BRG-2204", docs[0].ID)
	}
}

func TestRetrieveMatchesIdentifierPrefix(t *testing.T) {
	r := NewMemoryRetriever(corpus())

	docs, err := r.Retrieve(context.Background(), "availability of brg-22", 3)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(docs) == 0 {
		t.Fatal("no documents returned for identifier prefix")
	}
	if docs[0].ID != "BRG-2204" {
		t.Errorf("top doc = %s, want BRG-2204", docs[0].ID)
	}
}

func TestRetrievePlainWordNeverPrefixMatches(t *testing.T) {
	r := NewMemoryRetriever([]Doc{
		{ID: "documentation", Title: "internal papers", Content: "nothing relevant here"},
	})

	docs, err := r.Retrieve(context.Background(), "doc review checklist", 3)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	for _, d := range docs {
		if d.ID == "documentation" {
			t.Error("plain word matched an ID by prefix")
		}
	}
}

func TestRetrieveExcludesIrrelevant(t *testing.T) {
	r := NewMemoryRetriever(corpus())

	docs, err := r.Retrieve(context.Background(), "quantum entanglement basics", 3)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	for _, d := range docs {
		if d.ID == "BRG-2204" {
			t.Error("unrelated bearing doc returned for physics query")
		}
	}
}

func TestRetrieveRespectsTopK(t *testing.T) {
	r := NewMemoryRetriever(corpus())
	r.Add(Doc{ID: "DOC-GO2", Title: "Go channels deep dive", Content: "channels and goroutines"})

	docs, err := r.Retrieve(context.Background(), "goroutines and channels", 1)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if len(docs) > 1 {
		t.Errorf("returned %d docs, want at most 1", len(docs))
	}
}

func TestRetrieveEmptyQuery(t *testing.T) {
	r := NewMemoryRetriever(corpus())

	docs, err := r.Retrieve(context.Background(), "", 3)
	if err != nil {
		t.Fatalf("Retrieve failed: %v", err)
	}
	if docs != nil {
		t.Errorf("expected no results for empty query, got %d", len(docs))
	}
}

func TestRetrieveCancelledContext(t *testing.T) {
	r := NewMemoryRetriever(corpus())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := r.Retrieve(ctx, "bearing", 3); err == nil {
		t.Error("expected error for cancelled context")
	}
}
