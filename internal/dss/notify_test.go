package dss

import "testing"

func TestTopicCoalescesPendingChanges(t *testing.T) {
	topic := newTopic(EntityTickets)
	ch, cancel := topic.Subscribe()
	defer cancel()

	topic.emit(ChangeStructure)
	topic.emit(ChangeValues)
	topic.emit(ChangeValues)

	c := <-ch
	if c.Kind != ChangeStructure || c.Entity != EntityTickets {
		t.Fatalf("change = %+v", c)
	}
	expectNoChange(t, ch)
}

func TestTopicFanOut(t *testing.T) {
	topic := newTopic(EntityDetail)
	a, cancelA := topic.Subscribe()
	b, cancelB := topic.Subscribe()
	defer cancelB()

	topic.emit(ChangeValues)
	expectChange(t, a, ChangeValues)
	expectChange(t, b, ChangeValues)

	cancelA()
	if _, open := <-a; open {
		t.Fatal("cancelled subscription should be closed")
	}
	cancelA()

	topic.emit(ChangeStructure)
	expectChange(t, b, ChangeStructure)
}

func TestTopicsAreIndependent(t *testing.T) {
	m, _, _ := newTestModel(t)
	tickets, cancelTickets := m.Topics().Tickets.Subscribe()
	defer cancelTickets()
	catalog, cancelCatalog := m.Topics().Catalog.Subscribe()
	defer cancelCatalog()

	m.SetCatalog([]ServiceSummary{{Name: "a", Hash: "h"}})

	expectChange(t, catalog, ChangeStructure)
	expectNoChange(t, tickets)
}
