package cli

import "testing"

func TestToConfigFlags(t *testing.T) {
	f := &Flags{Shards: 6, Task: "integrationTest", UnknownAsFailure: false, Seed: 7}

	t.Run("copies values", func(t *testing.T) {
		got := f.ToConfigFlags(nil)
		if got.Shards != 6 || got.Task != "integrationTest" {
			t.Errorf("unexpected flags: %+v", got)
		}
		if got.Seed != nil {
			t.Errorf("seed should stay unset when not given, got %d", *got.Seed)
		}
		if got.UnknownAsFailure != nil {
			t.Error("unknown-as-failure should stay unset when not given")
		}
	})

	t.Run("explicit unknown-as-failure", func(t *testing.T) {
		got := f.ToConfigFlags(func(name string) bool { return name == "unknown-as-failure" })
		if got.UnknownAsFailure == nil || *got.UnknownAsFailure {
			t.Errorf("expected explicit false, got %v", got.UnknownAsFailure)
		}
	})
}

func TestToConfigFlagsExplicitZeroSeed(t *testing.T) {
	f := &Flags{Seed: 0}
	got := f.ToConfigFlags(func(name string) bool { return name == "seed" })
	if got.Seed == nil || *got.Seed != 0 {
		t.Errorf("expected explicit seed 0, got %v", got.Seed)
	}
}
