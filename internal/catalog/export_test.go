package catalog

// HeldLocks reports how many per-book locks are live.
func (a *RatingAggregator) HeldLocks() int { return a.locks.size() }
