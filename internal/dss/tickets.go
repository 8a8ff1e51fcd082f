package dss

import (
	"context"
	"fmt"

	"github.com/ontree-co/treeseg/internal/logging"
	"github.com/ontree-co/treeseg/internal/workspace"
)

// DetailPoll describes one outstanding detail request
type DetailPoll struct {
	Seq      uint64
	TicketID int64
	Since    int64
}

// BeginListingPoll numbers a new listing request
func (m *Model) BeginListingPoll() uint64 {
	m.listingSeq++
	return m.listingSeq
}

// FetchTicketListing retrieves all tickets of the current user. Safe off the owner.
func (m *Model) FetchTicketListing(ctx context.Context, seq uint64) (resp TicketListingResponse) {
	resp.Seq = seq
	defer func() {
		if r := recover(); r != nil {
			logging.Warnf("Ticket listing failed: %v", r)
			resp = TicketListingResponse{Seq: seq}
		}
	}()

	ok, body := m.transport.Get(ctx, "api/tickets?format=json")
	if !ok {
		logging.Debugf("Ticket listing failed: %s", body)
		return resp
	}
	listing, valid := decodeTicketListing(body)
	if !valid {
		logging.Debugf("Ticket listing was not valid JSON")
		return resp
	}
	resp.OK = true
	resp.Listing = listing
	return resp
}

// ApplyListing replaces the ticket listing. Responses older than one already
// applied and failed fetches are ignored. When the set of ids is unchanged
// subscribers get a value change, otherwise a structure change. The selected
// ticket is not touched.
func (m *Model) ApplyListing(resp TicketListingResponse) {
	if resp.Seq != 0 {
		if resp.Seq <= m.lastListingSeq {
			logging.Debugf("Dropping stale ticket listing %d", resp.Seq)
			return
		}
		m.lastListingSeq = resp.Seq
	}
	if !resp.OK {
		return
	}

	listing := resp.Listing
	if listing == nil {
		listing = TicketListing{}
	}
	kind := ChangeStructure
	if m.listing.sameKeys(listing) {
		kind = ChangeValues
	}
	m.listing = listing.clone()
	m.topics.Tickets.emit(kind)
}

// RefreshListing fetches and applies the listing in one step. It blocks the
// caller and is meant for one-shot use.
func (m *Model) RefreshListing(ctx context.Context) bool {
	resp := m.FetchTicketListing(ctx, m.BeginListingPoll())
	m.ApplyListing(resp)
	return resp.OK
}

// Listing returns a copy of the known tickets
func (m *Model) Listing() TicketListing {
	return m.listing.clone()
}

// ListingValid reports whether there is at least one known ticket
func (m *Model) ListingValid() bool {
	return len(m.listing) > 0
}

// SelectTicket makes id the ticket whose detail is tracked. Changing the
// selection discards the cached detail and outdates every detail request
// still in flight.
func (m *Model) SelectTicket(id int64) {
	if id == m.selectedTicket {
		return
	}
	m.selectedTicket = id
	m.lastDetailSeq = m.detailSeq
	m.detail = TicketDetail{}
	m.detailValid = false
	m.topics.Tickets.emit(ChangeValues)
	m.topics.Detail.emit(ChangeStructure)
}

// SelectedTicket returns the selected ticket id
func (m *Model) SelectedTicket() (int64, bool) {
	return m.selectedTicket, m.selectedTicket != 0
}

// RequestTicketDelete asks the service to delete a ticket. It does not touch
// the model and is safe off the owner.
func (m *Model) RequestTicketDelete(ctx context.Context, id int64) error {
	ok, body := m.transport.Get(ctx, "api/tickets/%d/delete", id)
	if !ok {
		return fmt.Errorf("error deleting ticket %d: %s", id, body)
	}
	return nil
}

// ApplyTicketDeleted removes a deleted ticket from the listing. If it was
// selected, the next higher id is selected, or the highest remaining id, or
// nothing when the listing is now empty.
func (m *Model) ApplyTicketDeleted(id int64) {
	if _, ok := m.listing[id]; !ok {
		return
	}
	if id == m.selectedTicket {
		var next, highest int64
		for _, other := range m.listing.IDs() {
			if other == id {
				continue
			}
			if other > id && next == 0 {
				next = other
			}
			highest = other
		}
		if next == 0 {
			next = highest
		}
		m.SelectTicket(next)
	}
	delete(m.listing, id)
	m.topics.Tickets.emit(ChangeStructure)
}

// DeleteTicket deletes a known ticket on the server and then locally. A
// failed request leaves the model unchanged.
func (m *Model) DeleteTicket(ctx context.Context, id int64) error {
	if _, ok := m.listing[id]; !ok {
		return fmt.Errorf("ticket %d: %w", id, ErrUnknownTicket)
	}
	if err := m.RequestTicketDelete(ctx, id); err != nil {
		return err
	}
	logging.Infof("Deleted ticket %d", id)
	m.ApplyTicketDeleted(id)
	return nil
}

// DeleteSelectedTicket deletes the selected ticket
func (m *Model) DeleteSelectedTicket(ctx context.Context) error {
	id, ok := m.SelectedTicket()
	if !ok {
		return ErrNoTicketSelected
	}
	return m.DeleteTicket(ctx, id)
}

// BeginDetailPoll numbers a detail request for the selected ticket, asking
// only for log entries newer than those already held.
func (m *Model) BeginDetailPoll() (DetailPoll, bool) {
	id, ok := m.SelectedTicket()
	if !ok {
		return DetailPoll{}, false
	}
	m.detailSeq++
	return DetailPoll{Seq: m.detailSeq, TicketID: id, Since: m.LastLogID()}, true
}

// FetchTicketDetail retrieves progress and log entries after poll.Since.
// Safe off the owner.
func (m *Model) FetchTicketDetail(ctx context.Context, poll DetailPoll) (resp TicketDetailResponse) {
	resp = TicketDetailResponse{Seq: poll.Seq, TicketID: poll.TicketID}
	defer func() {
		if r := recover(); r != nil {
			logging.Warnf("Detail of ticket %d failed: %v", poll.TicketID, r)
			resp = TicketDetailResponse{Seq: poll.Seq, TicketID: poll.TicketID}
		}
	}()

	ok, body := m.transport.Get(ctx, "api/tickets/%d/detail?since=%d", poll.TicketID, poll.Since)
	if !ok {
		logging.Debugf("Detail of ticket %d failed: %s", poll.TicketID, body)
		return resp
	}
	progress, entries, valid := decodeTicketDetail(body)
	if !valid {
		logging.Debugf("Detail of ticket %d was not valid JSON", poll.TicketID)
		return resp
	}
	resp.OK = true
	resp.Progress = progress
	resp.Log = entries
	return resp
}

// ApplyDetail merges a detail response into the selected ticket's detail.
// Responses for another ticket, responses older than one already applied
// and failed fetches are ignored. Log entries at or below the newest held id
// are skipped, so redelivery never duplicates entries.
func (m *Model) ApplyDetail(resp TicketDetailResponse) {
	if resp.Seq != 0 && resp.Seq <= m.lastDetailSeq {
		logging.Debugf("Dropping stale detail %d of ticket %d", resp.Seq, resp.TicketID)
		return
	}
	if m.selectedTicket == 0 || resp.TicketID != m.selectedTicket {
		return
	}
	if resp.Seq != 0 {
		m.lastDetailSeq = resp.Seq
	}
	if !resp.OK {
		return
	}

	structural := false
	if m.detail.TicketID != resp.TicketID {
		m.detail = TicketDetail{TicketID: resp.TicketID}
		structural = true
	}

	last := m.detail.LastLogID()
	for _, entry := range resp.Log {
		if entry.ID <= last {
			continue
		}
		m.detail.Log = append(m.detail.Log, entry)
		last = entry.ID
		structural = true
	}

	m.detail.Progress = clampProgress(resp.Progress)
	m.detailValid = true

	if structural {
		m.topics.Detail.emit(ChangeStructure)
	} else {
		m.topics.Detail.emit(ChangeValues)
	}
}

// RefreshDetail fetches and applies the selected ticket's detail in one step
func (m *Model) RefreshDetail(ctx context.Context) bool {
	poll, ok := m.BeginDetailPoll()
	if !ok {
		return false
	}
	resp := m.FetchTicketDetail(ctx, poll)
	m.ApplyDetail(resp)
	return resp.OK
}

// LastLogID is the newest log id held for the selected ticket, or 0
func (m *Model) LastLogID() int64 {
	if m.selectedTicket == 0 || m.detail.TicketID != m.selectedTicket {
		return 0
	}
	return m.detail.LastLogID()
}

// SelectedDetail returns a copy of the selected ticket's detail
func (m *Model) SelectedDetail() (TicketDetail, bool) {
	if !m.detailValid || m.selectedTicket == 0 || m.detail.TicketID != m.selectedTicket {
		return TicketDetail{}, false
	}
	out := m.detail
	out.Log = append([]LogEntry(nil), m.detail.Log...)
	return out, true
}

// CanDownload reports whether the selected ticket has finished successfully
func (m *Model) CanDownload() bool {
	summary, ok := m.listing[m.selectedTicket]
	return ok && m.selectedTicket != 0 && summary.Status == StatusSuccess
}

// DownloadResults fetches the result files of the selected ticket into a new
// temporary directory and returns their paths.
func (m *Model) DownloadResults(ctx context.Context) ([]string, error) {
	id, ok := m.SelectedTicket()
	if !ok {
		return nil, ErrNoTicketSelected
	}
	if !m.CanDownload() {
		return nil, fmt.Errorf("ticket %d: %w", id, ErrResultsUnavailable)
	}
	dir, err := m.store.TempDirectory()
	if err != nil {
		return nil, err
	}
	files, err := m.store.DownloadResultFiles(ctx, id, dir, workspace.ResultsArea)
	if err != nil {
		return files, fmt.Errorf("failed to download results of ticket %d: %w", id, err)
	}
	logging.Infof("Downloaded %d result files of ticket %d to %s", len(files), id, dir)
	return files, nil
}

func clampProgress(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	}
	return p
}
