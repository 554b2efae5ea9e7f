package scheduler

// Status returns a copy of every task's run state, in registration order.
// The snapshot is detached: callers never see live references, so reads are
// torn-free no matter what the loop is doing.
func (s *Service) Status() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := Snapshot{
		Running:  s.running,
		InFlight: s.inFlight,
		Tasks:    make([]TaskStatus, 0, len(s.tasks)),
	}
	for _, t := range s.tasks {
		out.Tasks = append(out.Tasks, TaskStatus{
			Name:        t.desc.Name,
			State:       t.state,
			Disabled:    t.disabled || !t.desc.Enabled,
			NextFire:    t.nextFire,
			LastFire:    t.lastFire,
			LastOutcome: t.lastOutcome,
			Failures:    t.failures,
			Skips:       t.skips,
		})
	}
	return out
}
