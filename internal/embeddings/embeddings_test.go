package embeddings

import (
	"context"
	"testing"
)

func TestNewEmbedder_Local(t *testing.T) {
	e, err := NewEmbedder(KindLocal, Config{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer e.Close()

	if e.Dimension() != LocalDimension {
		t.Errorf("dimension = %d, want %d", e.Dimension(), LocalDimension)
	}
	if e.Suffix() != "local" {
		t.Errorf("suffix = %q, want %q", e.Suffix(), "local")
	}
}

func TestNewEmbedder_VoyageRequiresAPIKey(t *testing.T) {
	if _, err := NewEmbedder(KindVoyage, Config{}); err == nil {
		t.Fatal("expected error for missing voyage api key")
	}
}

func TestNewEmbedder_Voyage(t *testing.T) {
	e, err := NewEmbedder(KindVoyage, Config{VoyageAPIKey: "test-key"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Dimension() != VoyageDimension {
		t.Errorf("dimension = %d, want %d", e.Dimension(), VoyageDimension)
	}
	if e.Suffix() != "voyage" {
		t.Errorf("suffix = %q, want %q", e.Suffix(), "voyage")
	}
}

func TestNewEmbedder_Mock(t *testing.T) {
	e, err := NewEmbedder(KindMock, Config{MockDimension: 8})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.Dimension() != 8 {
		t.Errorf("dimension = %d, want 8", e.Dimension())
	}
}

func TestNewEmbedder_UnknownKind(t *testing.T) {
	if _, err := NewEmbedder(Kind("bogus"), Config{}); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestLocalEmbedder_DimensionMatchesVectors(t *testing.T) {
	e := NewLocalEmbedder("", 2)
	defer e.Close()

	vec, err := e.EmbedText(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vec) != e.Dimension() {
		t.Errorf("len(vec) = %d, want %d", len(vec), e.Dimension())
	}
}

func TestLocalEmbedder_Deterministic(t *testing.T) {
	e := NewLocalEmbedder("", 2)
	defer e.Close()

	v1, err := e.EmbedText(context.Background(), "the quick brown fox")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	v2, err := e.EmbedText(context.Background(), "the quick brown fox")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("embedding not deterministic at index %d: %f != %f", i, v1[i], v2[i])
		}
	}
}

func TestLocalEmbedder_EmbedBatchMatchesIndividualCount(t *testing.T) {
	e := NewLocalEmbedder("", 3)
	defer e.Close()

	texts := []string{"one", "two", "three", "four", "five"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("len(vecs) = %d, want %d", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) != LocalDimension {
			t.Errorf("vecs[%d] has len %d, want %d", i, len(v), LocalDimension)
		}
	}
}

func TestLocalEmbedder_CloseRejectsFurtherWork(t *testing.T) {
	e := NewLocalEmbedder("", 1)
	if err := e.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := e.EmbedText(context.Background(), "after close"); err == nil {
		t.Fatal("expected error after Close")
	}
}

func TestMockEmbedder_DeterministicAcrossCalls(t *testing.T) {
	m := NewMockEmbedder(16)
	v1, _ := m.EmbedText(context.Background(), "fixture text")
	v2, _ := m.EmbedText(context.Background(), "fixture text")
	for i := range v1 {
		if v1[i] != v2[i] {
			t.Fatalf("mock embedding not deterministic at index %d", i)
		}
	}
}

func TestMockEmbedder_DifferentTextDifferentVector(t *testing.T) {
	m := NewMockEmbedder(16)
	v1, _ := m.EmbedText(context.Background(), "alpha")
	v2, _ := m.EmbedText(context.Background(), "beta")
	same := true
	for i := range v1 {
		if v1[i] != v2[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("expected different embeddings for different text")
	}
}
