package emotion_test

import (
	"testing"

	"github.com/novo-avatar/novo/pkg/provider/emotion"
)

func TestTop(t *testing.T) {
	t.Parallel()
	in := []emotion.Score{
		{"Calmness", 0.2}, {"Joy", 0.9}, {"Interest", 0.5}, {"Boredom", 0.1},
		{"Amusement", 0.7}, {"Doubt", 0.3}, {"Tiredness", 0.05},
	}
	got := emotion.Top(in, emotion.DefaultTop)
	want := []string{"Joy", "Amusement", "Interest", "Doubt", "Calmness"}
	if len(got) != len(want) {
		t.Fatalf("Top returned %d scores, want %d", len(got), len(want))
	}
	for i, name := range want {
		if got[i].Name != name {
			t.Errorf("Top[%d] = %s, want %s", i, got[i].Name, name)
		}
	}
	if in[0].Name != "Calmness" {
		t.Error("Top modified its input")
	}
	if n := len(emotion.Top(in[:2], 5)); n != 2 {
		t.Errorf("Top of short list = %d entries, want 2", n)
	}
}

func TestSampler(t *testing.T) {
	t.Parallel()
	s := emotion.NewSampler(10)
	var admitted []int
	for i := range 25 {
		if s.Admit() {
			admitted = append(admitted, i)
		}
	}
	if len(admitted) != 3 || admitted[0] != 0 || admitted[1] != 10 || admitted[2] != 20 {
		t.Errorf("admitted = %v, want [0 10 20]", admitted)
	}

	all := emotion.NewSampler(0)
	for range 3 {
		if !all.Admit() {
			t.Fatal("sampler with every<1 must admit everything")
		}
	}
}
