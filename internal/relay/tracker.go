package relay

// handle identifies one upstream connection session: a slot in the relay's
// connection arena plus the generation that slot had when the handle was
// taken. Every disconnect bumps the generation, so a stale handle never
// resolves to a reconnected or destroyed connection.
type handle struct {
	slot int
	gen  uint32
}

// tombstone replaces tracker entries whose owner was torn down
var tombstone = handle{slot: -1}

func (h handle) isTombstone() bool {
	return h.slot < 0
}

type trackedCommand struct {
	owner   handle
	command string
}

// commandTracker records the global order of real commands sent to the one
// downstream session. Only its front entry may be in flight.
type commandTracker struct {
	entries []trackedCommand
	// draining is set when the front entry is a tombstone whose execution
	// echo has been seen; its responses are swallowed until completion.
	draining bool
}

func (t *commandTracker) push(owner handle, command string) {
	t.entries = append(t.entries, trackedCommand{owner: owner, command: command})
}

func (t *commandTracker) front() (trackedCommand, bool) {
	if len(t.entries) == 0 {
		return trackedCommand{}, false
	}
	return t.entries[0], true
}

func (t *commandTracker) pop() {
	if len(t.entries) == 0 {
		return
	}
	t.entries[0] = trackedCommand{}
	t.entries = t.entries[1:]
	t.draining = false
}

// invalidate tombstones every entry owned by h. When h owned the command
// currently executing, the tracker switches to draining so the completion
// marker still pops it.
func (t *commandTracker) invalidate(h handle, executing bool) {
	for i := range t.entries {
		if t.entries[i].owner == h {
			if i == 0 && executing {
				t.draining = true
			}
			t.entries[i].owner = tombstone
		}
	}
}

func (t *commandTracker) size() int {
	return len(t.entries)
}

func (t *commandTracker) reset() {
	t.entries = nil
	t.draining = false
}
