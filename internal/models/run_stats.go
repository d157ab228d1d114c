package models

// RunStats is the outcome of one dispatcher run, applied to the owning
// rule's persisted counters in a single additive update. Attempted,
// Succeeded, Failed and the per-operation counts are record-level; the run
// itself increments run_count and exactly one of manual_count/auto_count.
type RunStats struct {
	Origin    SyncOrigin
	Attempted int
	Succeeded int
	Failed    int
	Inserts   int
	Updates   int
	Deletes   int
	LastError string
}

// Observe folds one record outcome into the stats, switching exhaustively
// on the operation kind so a new kind cannot be silently uncounted.
func (s *RunStats) Observe(op OperationKind, ok bool) {
	s.Attempted++
	if ok {
		s.Succeeded++
	} else {
		s.Failed++
	}
	switch op {
	case OpInsert:
		s.Inserts++
	case OpUpdate:
		s.Updates++
	case OpDelete:
		s.Deletes++
	}
}
