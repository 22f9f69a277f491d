package driver

// Frame is (node id, byte offset). How Offset is to be interpreted is a
// per-engine convention, not a driver-enforced invariant — the driver
// only ever pushes the root frame (NodeID, 0) and reads the top frame's
// ID back, so each Engine is free to choose how it accumulates offsets
// across a Call, as long as it is consistent with itself:
//
//   - The interpreter and specialized engines store each frame's Offset
//     already fully resolved to an absolute byte position in the data
//     stack (a Call pushes offset = caller's absolute + the Call's own
//     offset field, and a deferred continuation frame copies the
//     caller's absolute unchanged) — dispatch then indexes stack
//     directly at the top frame's Offset.
//   - The JIT stores each frame's Offset as the delta contributed by
//     that level alone (mirroring what its generated code naturally
//     produces in a suspend trace) and reconstructs the absolute
//     position of the top frame by summing down the stack — see
//     Offset() below.
type Frame struct {
	ID     NodeID
	Offset int
}

// RunState is the mutable per-eval state threaded between the driver
// and the engine: a stack of frames, innermost (currently executing) on
// top.
type RunState struct {
	Frames []Frame
}

// Offset sums every frame's Offset field from the root down to the top.
// Only meaningful for an engine that adopts the delta convention
// documented on Frame (the JIT); engines using the absolute convention
// should read Top().Offset directly instead.
func (s *RunState) Offset() int {
	total := 0
	for _, f := range s.Frames {
		total += f.Offset
	}
	return total
}

// Top returns the currently executing frame. Panics if the frame stack
// is empty; callers (engines) only ever call this while frames is
// known to be non-empty.
func (s *RunState) Top() Frame { return s.Frames[len(s.Frames)-1] }

// SetTopID rewrites the id of the top frame in place, leaving its
// Offset untouched — the move a Command or Branch makes when it selects
// a successor without changing the current stack window.
func (s *RunState) SetTopID(id NodeID) { s.Frames[len(s.Frames)-1].ID = id }

// Push pushes a new frame on top of the stack.
func (s *RunState) Push(f Frame) { s.Frames = append(s.Frames, f) }

// Pop removes and returns the top frame.
func (s *RunState) Pop() Frame {
	f := s.Frames[len(s.Frames)-1]
	s.Frames = s.Frames[:len(s.Frames)-1]
	return f
}

// Empty reports whether the frame stack has been fully unwound.
func (s *RunState) Empty() bool { return len(s.Frames) == 0 }
