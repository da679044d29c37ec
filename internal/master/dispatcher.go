package master

// ReaderDispatcher is the Reader Dispatcher, C3. It tracks how many range
// readers are currently active and advances last_assigned_block as they
// report completion, dispatching at most one new range per completion.
type ReaderDispatcher struct {
	ActiveReaders     int
	LastAssignedBlock int64
	AllowMoreReaders  bool
	MaxReaders        int
	BatchSize         int64
	Head              int64
}

// NewReaderDispatcher seeds dispatcher state from a completed fleet plan.
func NewReaderDispatcher(plan *PlanResult, batchSize int64) *ReaderDispatcher {
	return &ReaderDispatcher{
		ActiveReaders:     plan.ActiveReaderCount,
		LastAssignedBlock: plan.LastAssignedBlock,
		AllowMoreReaders:  true,
		MaxReaders:        plan.MaxReaders,
		BatchSize:         batchSize,
		Head:              plan.Head,
	}
}

// OnCompletion handles a reader-completion event from a range reader. It
// returns the next range to dispatch to that same worker, and true, or
// false if the worker should be left idle. last_assigned_block always
// advances by BatchSize, even for the final clamped range: the overshoot
// past Head is harmless because the guard below is an exclusive
// less-than comparison against Head, not against the clamped end.
func (d *ReaderDispatcher) OnCompletion() (ReaderAttrs, bool) {
	d.ActiveReaders--
	if d.ActiveReaders < 0 {
		d.ActiveReaders = 0
	}

	if d.ActiveReaders >= d.MaxReaders || d.LastAssignedBlock >= d.Head || !d.AllowMoreReaders {
		return ReaderAttrs{}, false
	}

	start := d.LastAssignedBlock
	end := start + d.BatchSize
	if end > d.Head {
		end = d.Head
	}
	d.LastAssignedBlock += d.BatchSize
	d.ActiveReaders++
	return ReaderAttrs{FirstBlock: start, LastBlock: end}, true
}
