package dss

import (
	"context"
	"errors"
	"reflect"
	"strconv"
	"strings"
	"testing"
)

func listingOf(ids ...int64) TicketListing {
	l := TicketListing{}
	for _, id := range ids {
		l[id] = TicketStatusSummary{ID: id, ServiceName: "seg-net", Status: StatusReady}
	}
	return l
}

func logIDs(entries []LogEntry) []int64 {
	out := make([]int64, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}

func entries(ids ...int64) []LogEntry {
	out := make([]LogEntry, len(ids))
	for i, id := range ids {
		out[i] = LogEntry{ID: id, Category: LogInfo, Text: "step"}
	}
	return out
}

func TestFetchTicketListing(t *testing.T) {
	m, transport, _ := newTestModel(t)
	transport.on("api/tickets?format=json", true, `{"result":[
		{"id": 9, "service": "seg-net", "status": "success"},
		{"id": 5, "service": "seg-net", "status": "claimed"},
		{"id": 7, "service": "other", "status": "exploded"}
	]}`)

	resp := m.FetchTicketListing(context.Background(), 3)
	if !resp.OK || resp.Seq != 3 {
		t.Fatalf("response = %+v", resp)
	}
	if got := resp.Listing.IDs(); !reflect.DeepEqual(got, []int64{5, 7, 9}) {
		t.Fatalf("ids = %v", got)
	}
	if resp.Listing[9].Status != StatusSuccess || resp.Listing[7].Status != StatusUnknown {
		t.Fatalf("statuses = %+v", resp.Listing)
	}
}

func TestFetchTicketListingFailure(t *testing.T) {
	m, transport, _ := newTestModel(t)
	transport.on("api/tickets?format=json", false, "503 Service Unavailable")

	resp := m.FetchTicketListing(context.Background(), 1)
	if resp.OK || len(resp.Listing) != 0 {
		t.Fatalf("response = %+v", resp)
	}
}

func TestApplyListingNotifications(t *testing.T) {
	m, _, _ := newTestModel(t)
	ch, cancel := m.Topics().Tickets.Subscribe()
	defer cancel()

	m.ApplyListing(TicketListingResponse{OK: true, Listing: listingOf(5, 7, 9)})
	expectChange(t, ch, ChangeStructure)

	changed := listingOf(5, 7, 9)
	changed[7] = TicketStatusSummary{ID: 7, Status: StatusSuccess}
	m.ApplyListing(TicketListingResponse{OK: true, Listing: changed})
	expectChange(t, ch, ChangeValues)
	if m.Listing()[7].Status != StatusSuccess {
		t.Fatal("status update not stored")
	}

	m.ApplyListing(TicketListingResponse{OK: true, Listing: listingOf(5, 7)})
	expectChange(t, ch, ChangeStructure)
	if !m.ListingValid() {
		t.Fatal("non-empty listing must be valid")
	}

	m.ApplyListing(TicketListingResponse{OK: true, Listing: TicketListing{}})
	expectChange(t, ch, ChangeStructure)
	if m.ListingValid() {
		t.Fatal("empty listing must be invalid")
	}
}

func TestApplyListingKeepsStateOnFailure(t *testing.T) {
	m, _, _ := newTestModel(t)
	m.ApplyListing(TicketListingResponse{Seq: 1, OK: true, Listing: listingOf(5, 7)})
	ch, cancel := m.Topics().Tickets.Subscribe()
	defer cancel()

	m.ApplyListing(TicketListingResponse{Seq: 2})
	expectNoChange(t, ch)
	if got := m.Listing().IDs(); !reflect.DeepEqual(got, []int64{5, 7}) {
		t.Fatalf("listing = %v", got)
	}
}

func TestApplyListingDropsStaleSequence(t *testing.T) {
	m, _, _ := newTestModel(t)
	first := m.BeginListingPoll()
	second := m.BeginListingPoll()

	m.ApplyListing(TicketListingResponse{Seq: second, OK: true, Listing: listingOf(1, 2)})
	m.ApplyListing(TicketListingResponse{Seq: first, OK: true, Listing: listingOf(1)})

	if got := m.Listing().IDs(); !reflect.DeepEqual(got, []int64{1, 2}) {
		t.Fatalf("stale listing applied: %v", got)
	}
}

func TestApplyListingDoesNotChangeSelection(t *testing.T) {
	m, _, _ := newTestModel(t)
	m.ApplyListing(TicketListingResponse{OK: true, Listing: listingOf(5, 7)})
	m.SelectTicket(7)

	m.ApplyListing(TicketListingResponse{OK: true, Listing: listingOf(5)})
	if id, ok := m.SelectedTicket(); !ok || id != 7 {
		t.Fatalf("selection = %d, %v", id, ok)
	}
}

func TestDeleteTicketSelectionPolicy(t *testing.T) {
	tests := []struct {
		name      string
		listing   []int64
		selected  int64
		deleted   int64
		want      int64
		wantValid bool
	}{
		{"advances to next higher", []int64{3, 5, 8}, 5, 5, 8, true},
		{"wraps to highest remaining", []int64{3, 5, 8}, 8, 8, 5, true},
		{"last ticket leaves no selection", []int64{4}, 4, 4, 0, false},
		{"unselected ticket keeps selection", []int64{3, 5, 8}, 3, 8, 3, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, transport, _ := newTestModel(t)
			for _, id := range tt.listing {
				transport.on("api/tickets/"+strconv.FormatInt(id, 10)+"/delete", true, "ok")
			}
			m.ApplyListing(TicketListingResponse{OK: true, Listing: listingOf(tt.listing...)})
			m.SelectTicket(tt.selected)

			if err := m.DeleteTicket(context.Background(), tt.deleted); err != nil {
				t.Fatalf("DeleteTicket: %v", err)
			}

			id, ok := m.SelectedTicket()
			if ok != tt.wantValid || id != tt.want {
				t.Fatalf("selection = %d (%v), want %d (%v)", id, ok, tt.want, tt.wantValid)
			}
			if _, still := m.Listing()[tt.deleted]; still {
				t.Fatal("deleted ticket still listed")
			}
		})
	}
}

func TestDeleteTicketTransportFailure(t *testing.T) {
	m, transport, _ := newTestModel(t)
	transport.on("api/tickets/5/delete", false, "ticket is locked")
	m.ApplyListing(TicketListingResponse{OK: true, Listing: listingOf(5, 7)})
	m.SelectTicket(5)

	err := m.DeleteTicket(context.Background(), 5)
	if err == nil || !strings.Contains(err.Error(), "ticket is locked") {
		t.Fatalf("expected remote diagnostic in error, got %v", err)
	}
	if len(m.Listing()) != 2 {
		t.Fatal("failed delete must not change the listing")
	}
	if id, _ := m.SelectedTicket(); id != 5 {
		t.Fatalf("selection changed to %d", id)
	}
}

func TestDeleteTicketPreconditions(t *testing.T) {
	m, _, _ := newTestModel(t)
	if err := m.DeleteTicket(context.Background(), 5); !errors.Is(err, ErrUnknownTicket) {
		t.Fatalf("expected ErrUnknownTicket, got %v", err)
	}
	if err := m.DeleteSelectedTicket(context.Background()); !errors.Is(err, ErrNoTicketSelected) {
		t.Fatalf("expected ErrNoTicketSelected, got %v", err)
	}
}

func TestIncrementalDetailMerge(t *testing.T) {
	m, transport, _ := newTestModel(t)
	transport.on("api/tickets/42/detail?since=0", true,
		`{"result":{"progress":0.25,"log":[{"id":1,"category":"info","atime":"t1","message":"queued"},{"id":2,"category":"warning","message":"slow"},{"id":3,"category":"info","message":"running"}]}}`)
	transport.on("api/tickets/42/detail?since=3", true,
		`{"result":{"progress":1.0,"log":[{"id":4,"category":"info","message":"done"},{"id":5,"category":"info","message":"uploaded","attachments":[{"description":"preview","url":"https://x/1.png","mime_type":"image/png"}]}]}}`)
	m.SelectTicket(42)

	if !m.RefreshDetail(context.Background()) {
		t.Fatal("first poll failed")
	}
	if m.LastLogID() != 3 {
		t.Fatalf("last log id = %d", m.LastLogID())
	}
	if !m.RefreshDetail(context.Background()) {
		t.Fatal("second poll failed")
	}

	detail, ok := m.SelectedDetail()
	if !ok {
		t.Fatal("expected valid detail")
	}
	if got := logIDs(detail.Log); !reflect.DeepEqual(got, []int64{1, 2, 3, 4, 5}) {
		t.Fatalf("log ids = %v", got)
	}
	if detail.Progress != 1.0 {
		t.Fatalf("progress = %v", detail.Progress)
	}
	if detail.Log[1].Category != LogWarning || detail.Log[0].Timestamp != "t1" {
		t.Fatalf("entry fields = %+v", detail.Log[:2])
	}
	if att := detail.Log[4].Attachments; len(att) != 1 || att[0].MimeType != "image/png" {
		t.Fatalf("attachments = %+v", att)
	}
}

func TestApplyDetailDeduplicatesRedelivery(t *testing.T) {
	m, _, _ := newTestModel(t)
	m.SelectTicket(42)
	resp := TicketDetailResponse{OK: true, TicketID: 42, Progress: 0.5, Log: entries(1, 2, 3)}

	m.ApplyDetail(resp)
	m.ApplyDetail(resp)
	m.ApplyDetail(TicketDetailResponse{OK: true, TicketID: 42, Log: entries(2, 3, 4)})

	detail, _ := m.SelectedDetail()
	if got := logIDs(detail.Log); !reflect.DeepEqual(got, []int64{1, 2, 3, 4}) {
		t.Fatalf("log ids = %v", got)
	}
}

func TestStaleDetailAfterSelectionChange(t *testing.T) {
	m, _, _ := newTestModel(t)
	m.SelectTicket(1)
	pollA, _ := m.BeginDetailPoll()

	m.SelectTicket(2)
	m.ApplyDetail(TicketDetailResponse{OK: true, TicketID: 2, Progress: 0.3, Log: entries(10)})

	// Response for A arrives late
	m.ApplyDetail(TicketDetailResponse{Seq: pollA.Seq, OK: true, TicketID: 1, Progress: 0.9, Log: entries(1, 2)})

	detail, ok := m.SelectedDetail()
	if !ok || detail.TicketID != 2 {
		t.Fatalf("detail = %+v, %v", detail, ok)
	}
	if got := logIDs(detail.Log); !reflect.DeepEqual(got, []int64{10}) || detail.Progress != 0.3 {
		t.Fatalf("B's detail disturbed: %+v", detail)
	}
}

func TestSelectionChangeInvalidatesInFlightPoll(t *testing.T) {
	m, _, _ := newTestModel(t)
	m.SelectTicket(1)
	poll, _ := m.BeginDetailPoll()
	m.SelectTicket(2)
	m.SelectTicket(1)

	m.ApplyDetail(TicketDetailResponse{Seq: poll.Seq, OK: true, TicketID: 1, Log: entries(1)})
	if _, ok := m.SelectedDetail(); ok {
		t.Fatal("poll issued before reselection must be dropped")
	}
}

func TestApplyDetailOutOfOrder(t *testing.T) {
	m, _, _ := newTestModel(t)
	m.SelectTicket(42)
	older, _ := m.BeginDetailPoll()
	newer, _ := m.BeginDetailPoll()

	m.ApplyDetail(TicketDetailResponse{Seq: newer.Seq, OK: true, TicketID: 42, Progress: 0.8, Log: entries(1, 2)})
	m.ApplyDetail(TicketDetailResponse{Seq: older.Seq, OK: true, TicketID: 42, Progress: 0.1, Log: entries(1)})

	detail, _ := m.SelectedDetail()
	if detail.Progress != 0.8 || len(detail.Log) != 2 {
		t.Fatalf("older response overwrote newer: %+v", detail)
	}
}

func TestApplyDetailNotifications(t *testing.T) {
	m, _, _ := newTestModel(t)
	m.SelectTicket(42)
	ch, cancel := m.Topics().Detail.Subscribe()
	defer cancel()

	m.ApplyDetail(TicketDetailResponse{OK: true, TicketID: 42, Progress: 0.1})
	expectChange(t, ch, ChangeStructure)

	m.ApplyDetail(TicketDetailResponse{OK: true, TicketID: 42, Progress: 0.2})
	expectChange(t, ch, ChangeValues)

	m.ApplyDetail(TicketDetailResponse{OK: true, TicketID: 42, Progress: 0.3, Log: entries(1)})
	expectChange(t, ch, ChangeStructure)

	m.ApplyDetail(TicketDetailResponse{TicketID: 42, Progress: 0})
	expectNoChange(t, ch)
	if detail, _ := m.SelectedDetail(); detail.Progress != 0.3 {
		t.Fatalf("failed fetch changed progress to %v", detail.Progress)
	}
}

func TestLastLogIDRequiresMatchingSelection(t *testing.T) {
	m, _, _ := newTestModel(t)
	if m.LastLogID() != 0 {
		t.Fatal("no selection")
	}
	m.SelectTicket(42)
	m.ApplyDetail(TicketDetailResponse{OK: true, TicketID: 42, Log: entries(7)})
	if m.LastLogID() != 7 {
		t.Fatalf("last log id = %d", m.LastLogID())
	}
	m.SelectTicket(43)
	if m.LastLogID() != 0 {
		t.Fatal("detail of another ticket must not count")
	}
	if _, ok := m.BeginDetailPoll(); !ok {
		t.Fatal("expected poll for selected ticket")
	}
}

func TestProgressIsClamped(t *testing.T) {
	m, _, _ := newTestModel(t)
	m.SelectTicket(1)
	m.ApplyDetail(TicketDetailResponse{OK: true, TicketID: 1, Progress: 1.7})
	if d, _ := m.SelectedDetail(); d.Progress != 1 {
		t.Fatalf("progress = %v", d.Progress)
	}
}

func TestDownloadResults(t *testing.T) {
	m, _, store := newTestModel(t)
	store.files = []string{"/tmp/treeseg-test/seg.nii.gz"}
	listing := listingOf(3, 4)
	listing[4] = TicketStatusSummary{ID: 4, Status: StatusSuccess}
	m.ApplyListing(TicketListingResponse{OK: true, Listing: listing})

	if _, err := m.DownloadResults(context.Background()); !errors.Is(err, ErrNoTicketSelected) {
		t.Fatalf("expected ErrNoTicketSelected, got %v", err)
	}

	m.SelectTicket(3)
	if m.CanDownload() {
		t.Fatal("ready ticket has no results")
	}
	if _, err := m.DownloadResults(context.Background()); !errors.Is(err, ErrResultsUnavailable) {
		t.Fatalf("expected ErrResultsUnavailable, got %v", err)
	}

	m.SelectTicket(4)
	files, err := m.DownloadResults(context.Background())
	if err != nil {
		t.Fatalf("DownloadResults: %v", err)
	}
	if !reflect.DeepEqual(files, store.files) || store.area != "results" || store.downloadTo != "/tmp/treeseg-test" {
		t.Fatalf("download = %v into %q area %q", files, store.downloadTo, store.area)
	}
}
