// internal/chat/runs.go
package chat

import (
	"container/list"
	"time"

	"github.com/user/dram/internal/types"
)

const (
	DefaultMaxRuns       = 100
	DefaultMaxCanvasRuns = 200
	DefaultWorklogLimit  = 1200
)

// run is the reducer's bookkeeping for one in-flight generation.
type run struct {
	id        types.RunID
	session   types.SessionID
	startedAt time.Time
	thinking  string
	worklog   string
	lastEntry string
	speech    string
}

// runTable maps run ids to runs, evicting the oldest insertion beyond capacity.
type runTable struct {
	capacity int
	order    *list.List
	byID     map[types.RunID]*list.Element
}

func newRunTable(capacity int) *runTable {
	return &runTable{
		capacity: max(capacity, 1),
		order:    list.New(),
		byID:     make(map[types.RunID]*list.Element),
	}
}

func (t *runTable) get(id types.RunID) (*run, bool) {
	el, ok := t.byID[id]
	if !ok {
		return nil, false
	}
	return el.Value.(*run), true
}

// add inserts r and returns the run evicted to make room, if any.
func (t *runTable) add(r *run) *run {
	t.byID[r.id] = t.order.PushBack(r)
	if t.order.Len() <= t.capacity {
		return nil
	}
	oldest := t.order.Front()
	t.order.Remove(oldest)
	evicted := oldest.Value.(*run)
	delete(t.byID, evicted.id)
	return evicted
}

func (t *runTable) remove(id types.RunID) {
	if el, ok := t.byID[id]; ok {
		t.order.Remove(el)
		delete(t.byID, id)
	}
}

func (t *runTable) len() int {
	return t.order.Len()
}

// boundedSet remembers up to capacity keys, forgetting the oldest first.
type boundedSet struct {
	capacity int
	order    *list.List
	keys     map[string]*list.Element
}

func newBoundedSet(capacity int) *boundedSet {
	return &boundedSet{
		capacity: max(capacity, 1),
		order:    list.New(),
		keys:     make(map[string]*list.Element),
	}
}

func (s *boundedSet) has(key string) bool {
	_, ok := s.keys[key]
	return ok
}

// add reports false if key was already present.
func (s *boundedSet) add(key string) bool {
	if s.has(key) {
		return false
	}
	s.keys[key] = s.order.PushBack(key)
	if s.order.Len() > s.capacity {
		oldest := s.order.Front()
		s.order.Remove(oldest)
		delete(s.keys, oldest.Value.(string))
	}
	return true
}

func (s *boundedSet) len() int {
	return s.order.Len()
}
