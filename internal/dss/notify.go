package dss

import "sync"

// ChangeKind says how much of an entity changed
type ChangeKind int

const (
	// ChangeValues means values may have changed but the set of items did not,
	// so a listing view can refresh rows in place.
	ChangeValues ChangeKind = iota
	// ChangeStructure means items were added, removed or replaced and any
	// selection domain must be rebuilt.
	ChangeStructure
)

func (k ChangeKind) String() string {
	if k == ChangeStructure {
		return "structure"
	}
	return "values"
}

// Entity names a piece of orchestrator state that can be observed
type Entity string

const (
	EntityConnection Entity = "connection"
	EntityCatalog    Entity = "catalog"
	EntityBindings   Entity = "bindings"
	EntityTickets    Entity = "tickets"
	EntityDetail     Entity = "detail"
	EntitySubmission Entity = "submission"
)

// Change is delivered to subscribers of an entity
type Change struct {
	Entity Entity
	Kind   ChangeKind
}

// Topic fans out change notifications for one entity. Each subscriber has a
// one slot mailbox; pending notifications are merged so a slow consumer sees
// at most one, and a structural change is never downgraded to a value change.
type Topic struct {
	entity Entity
	mu     sync.Mutex
	subs   map[int]chan Change
	nextID int
}

func newTopic(entity Entity) *Topic {
	return &Topic{entity: entity, subs: make(map[int]chan Change)}
}

// Subscribe returns the notification channel and a function that cancels the subscription
func (t *Topic) Subscribe() (<-chan Change, func()) {
	t.mu.Lock()
	defer t.mu.Unlock()

	id := t.nextID
	t.nextID++
	ch := make(chan Change, 1)
	t.subs[id] = ch

	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if sub, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(sub)
		}
	}
}

func (t *Topic) emit(kind ChangeKind) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, ch := range t.subs {
		deliver(ch, Change{Entity: t.entity, Kind: kind})
	}
}

// deliver must be called with the topic lock held, which makes it the only sender.
func deliver(ch chan Change, c Change) {
	for {
		select {
		case ch <- c:
			return
		default:
		}
		select {
		case pending := <-ch:
			if pending.Kind > c.Kind {
				c.Kind = pending.Kind
			}
		default:
		}
	}
}

// Topics groups the per-entity notification channels of a Model
type Topics struct {
	Connection *Topic
	Catalog    *Topic
	Bindings   *Topic
	Tickets    *Topic
	Detail     *Topic
	Submission *Topic
}

func newTopics() Topics {
	return Topics{
		Connection: newTopic(EntityConnection),
		Catalog:    newTopic(EntityCatalog),
		Bindings:   newTopic(EntityBindings),
		Tickets:    newTopic(EntityTickets),
		Detail:     newTopic(EntityDetail),
		Submission: newTopic(EntitySubmission),
	}
}
