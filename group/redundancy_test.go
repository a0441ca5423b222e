package group

import (
	"context"
	"testing"
	"time"
)

func TestRedundancyRun(t *testing.T) {
	r := Redundancy{Copies: 3, Gap: 10 * time.Millisecond}

	var copies []int
	start := time.Now()
	if err := r.Run(context.Background(), func(i int) { copies = append(copies, i) }); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(copies) != 3 || copies[2] != 2 {
		t.Errorf("Expected copies 0..2, got %v", copies)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Expected at least two gaps, took %v", elapsed)
	}
}

func TestRedundancyAtLeastOnce(t *testing.T) {
	calls := 0
	_ = Redundancy{}.Run(context.Background(), func(int) { calls++ })
	if calls != 1 {
		t.Errorf("Expected a single send with zero copies configured, got %d", calls)
	}
}

func TestDefaultRedundancy(t *testing.T) {
	r := DefaultRedundancy()
	if r.Copies != 2 || r.Gap != 50*time.Millisecond {
		t.Errorf("Expected 2 copies 50ms apart, got %+v", r)
	}
}
