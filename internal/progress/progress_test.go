package progress

import "testing"

func TestLifecycle(t *testing.T) {
	tr := NewTracker()

	snap := tr.Snapshot()
	if snap.IsRunning {
		t.Error("new tracker reports running")
	}

	tr.Start(10)
	snap = tr.Snapshot()
	if !snap.IsRunning {
		t.Error("tracker not running after Start")
	}
	if snap.TotalItems != 10 {
		t.Errorf("total = %d, want 10", snap.TotalItems)
	}
	if snap.StartTime == nil {
		t.Error("start time not set")
	}
	if snap.EndTime != nil {
		t.Error("end time set before Stop")
	}

	tr.Update(5, 2, 2, 1, "Breaking Bad S05E14 - Ozymandias")
	snap = tr.Snapshot()
	if snap.ProcessedItems != 5 || snap.UpdatedItems != 2 || snap.SkippedItems != 2 || snap.ErrorItems != 1 {
		t.Errorf("counters = %d/%d/%d/%d, want 5/2/2/1",
			snap.ProcessedItems, snap.UpdatedItems, snap.SkippedItems, snap.ErrorItems)
	}
	if snap.PercentComplete != 50 {
		t.Errorf("percent = %v, want 50", snap.PercentComplete)
	}
	if snap.CurrentItem != "Breaking Bad S05E14 - Ozymandias" {
		t.Errorf("current item = %q", snap.CurrentItem)
	}

	tr.Stop()
	snap = tr.Snapshot()
	if snap.IsRunning {
		t.Error("tracker still running after Stop")
	}
	if snap.EndTime == nil {
		t.Error("end time not set after Stop")
	}
}

func TestEstimatedRemaining(t *testing.T) {
	tr := NewTracker()
	tr.Start(100)

	if snap := tr.Snapshot(); snap.EstimatedSecondsRemaining != nil {
		t.Error("ETA present before any items processed")
	}

	tr.Update(50, 0, 50, 0, "")
	snap := tr.Snapshot()
	if snap.EstimatedSecondsRemaining == nil {
		t.Fatal("ETA missing mid-run")
	}
	if *snap.EstimatedSecondsRemaining < 0 {
		t.Errorf("ETA = %v, want non-negative", *snap.EstimatedSecondsRemaining)
	}

	tr.Stop()
	if snap := tr.Snapshot(); snap.EstimatedSecondsRemaining != nil {
		t.Error("ETA present after Stop")
	}
}

func TestDetailOrderAndOverwrite(t *testing.T) {
	tr := NewTracker()
	tr.Start(3)
	tr.AddUpdated("Heat", "IMDb: none → 8.3 (OMDb)")
	tr.AddUpdated("Se7en", "IMDb: 8.5 → 8.6 (OMDb)")
	tr.AddUpdated("Heat", "IMDb: 8.3 → 8.4 (OMDb)")

	snap := tr.Snapshot()
	if len(snap.UpdatedDetails) != 2 {
		t.Fatalf("got %d details, want 2", len(snap.UpdatedDetails))
	}
	if snap.UpdatedDetails[0].Label != "Heat" || snap.UpdatedDetails[1].Label != "Se7en" {
		t.Errorf("order = %q, %q; want Heat then Se7en",
			snap.UpdatedDetails[0].Label, snap.UpdatedDetails[1].Label)
	}
	if snap.UpdatedDetails[0].Detail != "IMDb: 8.3 → 8.4 (OMDb)" {
		t.Errorf("re-added label kept old detail: %q", snap.UpdatedDetails[0].Detail)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	tr := NewTracker()
	tr.Start(1)
	tr.AddSkipped("Heat", "IMDb unchanged (8.3)")

	snap := tr.Snapshot()
	snap.SkippedDetails[0].Detail = "mutated"

	if got := tr.Snapshot().SkippedDetails[0].Detail; got != "IMDb unchanged (8.3)" {
		t.Errorf("tracker state leaked through snapshot: %q", got)
	}
}

func TestClear(t *testing.T) {
	tr := NewTracker()
	tr.Start(5)
	tr.Update(3, 1, 1, 1, "x")
	tr.SetMessage("Queued 3 items for selected scan")
	tr.AddFailure("Heat", "timeout")
	tr.Clear()

	snap := tr.Snapshot()
	if snap.IsRunning || snap.TotalItems != 0 || snap.ProcessedItems != 0 {
		t.Errorf("tracker not empty after Clear: %+v", snap)
	}
	if snap.Message != "" {
		t.Errorf("message survived Clear: %q", snap.Message)
	}
	if len(snap.FailureDetails) != 0 {
		t.Error("failure details survived Clear")
	}
}

func TestStartResetsPreviousRun(t *testing.T) {
	tr := NewTracker()
	tr.Start(5)
	tr.AddUpdated("Heat", "x")
	tr.Stop()

	tr.Start(2)
	snap := tr.Snapshot()
	if len(snap.UpdatedDetails) != 0 {
		t.Error("details from previous run survived Start")
	}
	if snap.EndTime != nil {
		t.Error("end time from previous run survived Start")
	}
}
