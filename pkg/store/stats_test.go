package store

import (
	"testing"
)

func TestGetStats(t *testing.T) {
	ctx, s, model, tbl := setupTestDBWithTraining(t)

	stats, err := s.GetStats(ctx)
	if err != nil {
		t.Fatalf("GetStats failed: %v", err)
	}
	if len(stats.Models) != 1 || stats.Models[0].Name != model.Name {
		t.Fatalf("expected a single model %q, got %+v", model.Name, stats.Models)
	}

	tableStats := tbl.Stats()
	got := stats.Stats[model.Id]
	if got.TotalTransitions != tableStats.Transitions {
		t.Errorf("TotalTransitions = %d, want %d", got.TotalTransitions, tableStats.Transitions)
	}
	if got.TotalFrequency != tableStats.TotalObservations {
		t.Errorf("TotalFrequency = %d, want %d", got.TotalFrequency, tableStats.TotalObservations)
	}
	if got.Contexts != tableStats.Contexts {
		t.Errorf("Contexts = %d, want %d", got.Contexts, tableStats.Contexts)
	}
	if stats.ContextCount != tableStats.Contexts {
		t.Errorf("ContextCount = %d, want %d", stats.ContextCount, tableStats.Contexts)
	}
	if stats.StateCount == 0 {
		t.Error("expected interned states")
	}
}
