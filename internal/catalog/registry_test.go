package catalog

import (
	"context"
	"testing"

	"github.com/stewardhq/steward/internal/store"
)

func TestNewRegistryRejectsBadDefinitions(t *testing.T) {
	cases := []struct {
		name string
		defs []Definition
	}{
		{"empty name", []Definition{{Name: "", Category: CategoryQuery, MinTier: 1}}},
		{"duplicate", []Definition{
			{Name: "a", Category: CategoryQuery, MinTier: 1},
			{Name: "a", Category: CategoryQuery, MinTier: 1},
		}},
		{"tier too low", []Definition{{Name: "a", Category: CategoryQuery, MinTier: 0}}},
		{"tier too high", []Definition{{Name: "a", Category: CategoryQuery, MinTier: 6}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewRegistry(tc.defs); err == nil {
				t.Error("NewRegistry accepted invalid definitions")
			}
		})
	}
}

func TestValidateCatchesMissingHandler(t *testing.T) {
	r, err := NewRegistry([]Definition{{Name: "a", Category: CategoryQuery, MinTier: 1}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := r.Validate(); err == nil {
		t.Error("Validate passed with no handler registered")
	}
}

func TestValidateCatchesDanglingCompensation(t *testing.T) {
	r, err := NewRegistry([]Definition{
		{Name: "a", Category: CategoryAction, MinTier: 1, Compensation: "undo_a"},
	})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	r.Register("a", HandlerFunc(func(ctx context.Context, inv Invocation) (Result, error) {
		return Result{}, nil
	}))
	if err := r.Validate(); err == nil {
		t.Error("Validate passed with dangling compensation reference")
	}
}

func TestRegisterUnknownAndDuplicate(t *testing.T) {
	r, err := NewRegistry([]Definition{{Name: "a", Category: CategoryQuery, MinTier: 1}})
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	noop := HandlerFunc(func(ctx context.Context, inv Invocation) (Result, error) { return Result{}, nil })

	if err := r.Register("b", noop); err == nil {
		t.Error("Register accepted an uncataloged name")
	}
	if err := r.Register("a", noop); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("a", noop); err == nil {
		t.Error("Register accepted a duplicate handler")
	}
}

func TestBuiltinRegistryComplete(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	r, err := NewBuiltinRegistry(db, nil)
	if err != nil {
		t.Fatalf("NewBuiltinRegistry: %v", err)
	}
	if len(r.Definitions()) != len(Builtins) {
		t.Errorf("definitions = %d, want %d", len(r.Definitions()), len(Builtins))
	}
	// Validate already ran inside NewBuiltinRegistry; the point here is that
	// every builtin, critical ones included, is executable.
	for _, d := range Builtins {
		if _, ok := r.Handler(d.Name); !ok {
			t.Errorf("no handler for %s", d.Name)
		}
	}
}

type stubEmbedder struct{}

func (stubEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	return []float64{1, 0, 0}, nil
}

func TestRecordPreferenceStoresEmbedding(t *testing.T) {
	db, err := store.OpenMemory()
	if err != nil {
		t.Fatalf("OpenMemory: %v", err)
	}
	defer db.Close()

	r, err := NewBuiltinRegistry(db, stubEmbedder{})
	if err != nil {
		t.Fatalf("NewBuiltinRegistry: %v", err)
	}
	h, ok := r.Handler("record_preference")
	if !ok {
		t.Fatal("no handler for record_preference")
	}

	_, err = h.Execute(context.Background(), Invocation{
		UserID: "u1",
		Params: map[string]any{"category": "communication", "key": "tone", "value": "formal"},
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	p, err := db.GetPreference("u1", "communication", "tone")
	if err != nil {
		t.Fatalf("GetPreference: %v", err)
	}
	if p == nil {
		t.Fatal("preference not stored")
	}
	if len(p.Embedding) == 0 {
		t.Error("preference stored without an embedding")
	}
}

func TestCriticalActionsRequireTopTier(t *testing.T) {
	for _, d := range Builtins {
		if d.Risk == RiskCritical && d.MinTier != 5 {
			t.Errorf("%s: critical action has min tier %d, want 5", d.Name, d.MinTier)
		}
	}
}
