package phonetic_test

import (
	"testing"

	"github.com/MrWong99/charlie/internal/transcript/phonetic"
)

var vocabulary = []string{"Charlie", "Home Assistant", "  ", "Kubernetes"}

func TestMatcher_Match(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		phrase      string
		want        string
		wantMatched bool
		minConf     float64
	}{
		{name: "misspelled name", phrase: "charley", want: "Charlie", wantMatched: true, minConf: 0.7},
		{name: "case insensitive", phrase: "CHARLIE", want: "Charlie", wantMatched: true, minConf: 0.99},
		{name: "multi-word term", phrase: "home assistent", want: "Home Assistant", wantMatched: true, minConf: 0.9},
		{name: "unrelated word", phrase: "hello", want: "hello"},
		{name: "empty phrase", phrase: "", want: ""},
	}

	m := phonetic.New(vocabulary)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, conf, matched := m.Match(tc.phrase)
			if matched != tc.wantMatched {
				t.Fatalf("Match(%q): matched=%v, want %v", tc.phrase, matched, tc.wantMatched)
			}
			if got != tc.want {
				t.Errorf("Match(%q): corrected=%q, want %q", tc.phrase, got, tc.want)
			}
			if !matched && conf != 0 {
				t.Errorf("Match(%q): confidence=%f, want 0 without a match", tc.phrase, conf)
			}
			if matched && conf < tc.minConf {
				t.Errorf("Match(%q): confidence=%f, want >= %f", tc.phrase, conf, tc.minConf)
			}
		})
	}
}

func TestMatcher_ThresholdFiltering(t *testing.T) {
	t.Parallel()

	m := phonetic.New([]string{"Charlie"},
		phonetic.WithPhoneticThreshold(0.99),
		phonetic.WithFuzzyThreshold(0.99),
	)
	if _, _, matched := m.Match("charley"); matched {
		t.Fatal("threshold 0.99 should reject near-matches")
	}
}

func TestMatcher_Vocabulary(t *testing.T) {
	t.Parallel()

	m := phonetic.New(vocabulary)
	if m.Len() != 3 {
		t.Errorf("Len: got %d, want 3 (blank entries dropped)", m.Len())
	}
	if m.MaxWords() != 2 {
		t.Errorf("MaxWords: got %d, want 2", m.MaxWords())
	}

	empty := phonetic.New(nil)
	if got, _, matched := empty.Match("charlie"); matched || got != "charlie" {
		t.Errorf("empty vocabulary: got %q matched=%v", got, matched)
	}
	if empty.MaxWords() != 0 {
		t.Errorf("empty MaxWords: got %d", empty.MaxWords())
	}
}
