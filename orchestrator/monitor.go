package orchestrator

// Monitor provides hooks to observe a request moving through the machine.
// Implement this interface to trace transitions or collect metrics.
type Monitor interface {
	Transition(from, to State, s Session)
	Degraded(state State, err error)
	Finish(s Session)
}

// noopMonitor is a no-op implementation of Monitor
type noopMonitor struct{}

var _ Monitor = (*noopMonitor)(nil)

func (n *noopMonitor) Transition(_, _ State, _ Session) {}
func (n *noopMonitor) Degraded(_ State, _ error)        {}
func (n *noopMonitor) Finish(_ Session)                 {}
