package melody

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/CTAG07/Cadenza/pkg/markov"
)

var _ markov.Sequencer[Feature] = (*FeatureModel)(nil)

func TestFeatureValid(t *testing.T) {
	testCases := []struct {
		name    string
		f       Feature
		wantErr bool
	}{
		{name: "Tonic on strong beat", f: Feature{1, Strong, Repeated}},
		{name: "Leading tone descending", f: Feature{7, Weak, Descending}},
		{name: "Degree zero", f: Feature{0, Weak, Repeated}, wantErr: true},
		{name: "Degree eight", f: Feature{8, Weak, Repeated}, wantErr: true},
		{name: "Unknown metric", f: Feature{1, "medium", Repeated}, wantErr: true},
		{name: "Direction two", f: Feature{1, Weak, 2}, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if err := tc.f.Valid(); (err != nil) != tc.wantErr {
				t.Errorf("Valid() error = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}

	if _, err := ParseMetric("strong"); err != nil {
		t.Errorf("ParseMetric(strong) failed: %v", err)
	}
	if _, err := ParseMetric("loud"); !errors.Is(err, markov.ErrInvalidArgument) {
		t.Errorf("expected ErrInvalidArgument, got %v", err)
	}
}

func TestDegreeProbabilities(t *testing.T) {
	m, _ := NewFeatureModel(1, "bach", newTestRand(1))

	// No context: each (degree, metric, direction) is 1/21, so each degree
	// gets 3/21.
	probs := m.DegreeProbabilities(Strong)
	if len(probs) != 7 {
		t.Fatalf("expected 7 degrees, got %d", len(probs))
	}
	for degree, p := range probs {
		if !approxEqual(p, 3.0/21) {
			t.Errorf("degree %d: %v, want 3/21", degree, p)
		}
	}
	if p := m.Probability(Feature{4, Weak, Ascending}); !approxEqual(p, 1.0/21) {
		t.Errorf("Probability without context = %v, want 1/21", p)
	}

	start := Feature{1, Strong, Repeated}
	seq := []Feature{
		start, {2, Weak, Ascending},
		start, {2, Weak, Descending},
		start, {5, Weak, Ascending},
		start, {3, Strong, Ascending},
	}
	if err := m.Train(seq); err != nil {
		t.Fatalf("Train failed: %v", err)
	}
	m.Update(start)

	weak := m.DegreeProbabilities(Weak)
	if !approxEqual(weak[2], 0.5) {
		t.Errorf("weak degree 2 = %v, want 0.5 (two directions summed)", weak[2])
	}
	if !approxEqual(weak[5], 0.25) {
		t.Errorf("weak degree 5 = %v, want 0.25", weak[5])
	}
	if weak[3] != 0 {
		t.Errorf("weak degree 3 = %v, want 0 (only seen on a strong beat)", weak[3])
	}
	strong := m.DegreeProbabilities(Strong)
	if !approxEqual(strong[3], 0.25) {
		t.Errorf("strong degree 3 = %v, want 0.25", strong[3])
	}
	if sum := sumProbabilities(t, weak) + sumProbabilities(t, strong); !approxEqual(sum, 1.0) {
		t.Errorf("marginals over both metrics sum to %v, want 1", sum)
	}
}

func TestSuggestDegree(t *testing.T) {
	m, _ := NewFeatureModel(1, "", newTestRand(2))
	if err := m.Train([]Feature{{1, Strong, Repeated}, {6, Weak, Descending}, {1, Strong, Repeated}, {6, Weak, Descending}}); err != nil {
		t.Fatalf("Train failed: %v", err)
	}

	// No context: degrees come from the default pool.
	for i := 0; i < 100; i++ {
		d, err := m.SuggestDegree(Strong, 1, nil)
		if err != nil {
			t.Fatalf("SuggestDegree failed: %v", err)
		}
		if d != 1 && d != 3 && d != 5 {
			t.Fatalf("degree %d not in the default pool", d)
		}
	}

	m.Update(Feature{1, Strong, Repeated})
	d, err := m.SuggestDegree(Weak, 1, []int{2})
	if err != nil || d != 6 {
		t.Errorf("SuggestDegree = %d, %v; want 6 from the table", d, err)
	}
	d, err = m.SuggestDegree(Weak, 0, []int{2})
	if err != nil || d != 2 {
		t.Errorf("SuggestDegree at weight 0 = %d, %v; want fallback 2", d, err)
	}

	f, err := m.SuggestFeature(0, nil)
	if err != nil {
		t.Fatalf("SuggestFeature failed: %v", err)
	}
	if f.Metric != Weak || f.Direction != Repeated {
		t.Errorf("default fallback feature = %+v, want a weak repeated degree", f)
	}
}

func TestFeatureCodec(t *testing.T) {
	tbl, _ := markov.NewTable[Feature](2)
	tbl.Train([]Feature{{1, Strong, Repeated}, {2, Weak, Ascending}, {1, Strong, Descending}, {7, Weak, Descending}})

	doc, err := tbl.Document(FeatureCodec{})
	if err != nil {
		t.Fatalf("Document failed: %v", err)
	}
	if _, ok := doc.Contexts[`[[1,"strong",0],[2,"weak",1]]`]; !ok {
		t.Errorf("expected tuple-encoded context key, got %v", doc.Contexts)
	}

	var buf bytes.Buffer
	if err := tbl.Save(&buf, FeatureCodec{}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	loaded, err := markov.Load[Feature](&buf, FeatureCodec{})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got := loaded.Counts([]Feature{{2, Weak, Ascending}, {1, Strong, Descending}}); got[Feature{7, Weak, Descending}] != 1 {
		t.Errorf("round trip lost a transition: %v", got)
	}

	for _, raw := range []string{
		`[1,"strong"]`,
		`[1,"strong",0,0]`,
		`[8,"strong",0]`,
		`[1,"loud",0]`,
		`[1,"strong",2]`,
		`[1,2,0]`,
		`["1","strong",0]`,
		`[1,null,0]`,
		`{"degree":1}`,
		`"(1, 'strong', 0)"`,
	} {
		if _, err := (FeatureCodec{}).DecodeState([]byte(raw)); err == nil {
			t.Errorf("DecodeState(%s) should fail", raw)
		}
	}

	wrongShape := `{"shape":"interval","order":1,"totalObservations":1,"contexts":{"[1]":{"2":1}}}`
	if _, err := markov.Load[Feature](strings.NewReader(wrongShape), FeatureCodec{}); !errors.Is(err, markov.ErrDeserialization) {
		t.Errorf("expected ErrDeserialization loading an interval document as features, got %v", err)
	}
}
