package markov

// Stats holds aggregated statistics for a single table.
type Stats struct {
	Order             int // The context length
	Contexts          int // The number of distinct contexts
	Transitions       int // The number of unique context->next links
	TotalObservations int // The sum of all counts; the total number of trained transitions
	MaxBranching      int // The largest number of distinct next states after one context
}

// Stats returns a snapshot of the table's size.
func (t *Table[S]) Stats() Stats {
	s := Stats{
		Order:             t.order,
		Contexts:          len(t.contexts),
		TotalObservations: t.total,
	}
	for _, d := range t.contexts {
		s.Transitions += len(d.entries)
		if len(d.entries) > s.MaxBranching {
			s.MaxBranching = len(d.entries)
		}
	}
	return s
}
