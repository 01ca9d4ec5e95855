package tracker

import "github.com/specialistvlad/ensembletrack/internal/snapshot"

// Event is one of *FullSnapshotEvent, *SnapshotUpdateEvent or *EndEvent.
type Event interface {
	isEvent()
}

// Update is the progress information shared by snapshot events.
type Update struct {
	PhaseName     string
	CurrentPhase  int
	TotalPhases   int
	Progress      float64
	Indeterminate bool
	Iteration     int
}

// FullSnapshotEvent carries the complete state of an iteration.
type FullSnapshotEvent struct {
	Update
	Snapshot *snapshot.Snapshot
}

// SnapshotUpdateEvent carries the changes since the previous event.
type SnapshotUpdateEvent struct {
	Update
	Partial *snapshot.PartialSnapshot
}

// EndEvent is the last event of a run.
type EndEvent struct {
	Failed     bool
	FailedMsg  string
	Successful int
	Total      int
}

func (*FullSnapshotEvent) isEvent()   {}
func (*SnapshotUpdateEvent) isEvent() {}
func (*EndEvent) isEvent()            {}
