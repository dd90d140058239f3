package match

import (
	"errors"
	"sync"
	"testing"
)

func TestStateTracker_Update(t *testing.T) {
	st := NewStateTracker()
	if st.HasFrames() {
		t.Fatal("new tracker should be empty")
	}

	st.SetReference("ref")
	st.Update(FrameResult{FrameID: "b", Result: &Result{Diagnostics: Diagnostics{PairMatched: 12}}})
	st.Update(FrameResult{FrameID: "a", Err: errors.New("no stars")})
	st.Update(FrameResult{FrameID: "c", Result: &Result{}, Err: ErrNotEnoughInliers})

	if got := st.Reference(); got != "ref" {
		t.Errorf("Reference = %q", got)
	}

	frames := st.Frames()
	if len(frames) != 3 || frames[0].FrameID != "a" || frames[2].FrameID != "c" {
		t.Fatalf("Frames not sorted: %+v", frames)
	}
	if frames[0].Soft || frames[0].Error == "" {
		t.Errorf("hard failure recorded as %+v", frames[0])
	}
	if !frames[2].Soft {
		t.Error("inlier shortfall should be soft")
	}

	b, ok := st.Frame("b")
	if !ok || b.Diagnostics().PairMatched != 12 {
		t.Errorf("Frame(b) = %+v, %v", b, ok)
	}
	a, _ := st.Frame("a")
	if a.Diagnostics() != (Diagnostics{}) {
		t.Error("failed frame should have zero diagnostics")
	}
	if _, ok := st.Frame("zzz"); ok {
		t.Error("unknown frame reported present")
	}
}

func TestStateTracker_Concurrent(t *testing.T) {
	st := NewStateTracker()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := string(rune('a' + i))
			st.Update(FrameResult{FrameID: id})
			st.Frames()
			st.Frame(id)
		}(i)
	}
	wg.Wait()
	if got := len(st.Frames()); got != 8 {
		t.Errorf("len(Frames) = %d, want 8", got)
	}
}
