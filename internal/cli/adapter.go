package cli

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ontree-co/treeseg/internal/database"
	"github.com/ontree-co/treeseg/internal/dss"
	"github.com/ontree-co/treeseg/internal/logging"
	"github.com/ontree-co/treeseg/internal/progress"
	"github.com/ontree-co/treeseg/internal/worker"
	"github.com/ontree-co/treeseg/internal/workspace"
)

// HistoryStore is the local record of submitted tickets
type HistoryStore interface {
	List(ctx context.Context, serverURL string, limit int) ([]database.Submission, error)
	Forget(ctx context.Context, serverURL string, ticketID int64) error
}

// AdapterOptions wires the orchestrator into the CLI
type AdapterOptions struct {
	// Model must be owned by Loop. The adapter only calls its Fetch and
	// Probe methods directly.
	Model       *dss.Model
	Loop        *worker.Loop
	Preferences dss.PreferenceStore
	History     HistoryStore
	Tracker     *progress.Tracker

	DatabasePath  string
	SchemaVersion func() (int64, error)
}

// NewManagerAdapter drives a dss.Model for CLI usage.
func NewManagerAdapter(opts AdapterOptions) Manager {
	if opts.Tracker == nil {
		opts.Tracker = progress.NewTracker()
	}
	return &managerAdapter{opts: opts}
}

type managerAdapter struct {
	opts AdapterOptions

	// transient is a server given on the command line that must not be
	// persisted with the user list
	transient string
}

// SubmitResult is the data of a successful submission
type SubmitResult struct {
	TicketID int64  `json:"ticket_id"`
	Service  string `json:"service"`
}

func (a *managerAdapter) call(ctx context.Context, fn func(*dss.Model) error) error {
	var err error
	if doErr := a.opts.Loop.Do(ctx, func(m *dss.Model) { err = fn(m) }); doErr != nil {
		return doErr
	}
	return err
}

func (a *managerAdapter) UseServer(ctx context.Context, serverURL, token string) error {
	return a.call(ctx, func(m *dss.Model) error {
		if serverURL != "" {
			serverURL = strings.TrimRight(serverURL, "/")
			index := slices.Index(m.Servers(), serverURL)
			if index < 0 {
				m.SetUserServerList(append(m.UserServerList(), serverURL))
				index = slices.Index(m.Servers(), serverURL)
				a.transient = serverURL
			}
			if err := m.SetServerIndex(index); err != nil {
				return err
			}
		}
		if token != "" {
			m.SetToken(token)
		}
		return nil
	})
}

// connect probes the selected server off the loop and applies the result
func (a *managerAdapter) connect(ctx context.Context) (string, dss.ServerStatus, error) {
	var serverURL, token string
	if err := a.opts.Loop.Do(ctx, func(m *dss.Model) {
		serverURL, token = m.ServerURL(), m.Token()
	}); err != nil {
		return "", dss.NotConnected, err
	}

	resp := a.opts.Model.ProbeConnection(ctx, serverURL, token)

	var status dss.ServerStatus
	if err := a.opts.Loop.Do(ctx, func(m *dss.Model) {
		m.ApplyStatusCheck(resp)
		status = m.Status()
	}); err != nil {
		return serverURL, dss.NotConnected, err
	}
	return serverURL, status, nil
}

func (a *managerAdapter) requireConnection(ctx context.Context) (string, error) {
	serverURL, status, err := a.connect(ctx)
	if err != nil {
		return "", err
	}
	if status != dss.ConnectedAuthorized {
		return "", fmt.Errorf("%w: %s is %s", ErrNotAuthorized, serverURL, strings.ToLower(status.String()))
	}
	return serverURL, nil
}

func (a *managerAdapter) ServerStatus(ctx context.Context) (ServerStatus, error) {
	serverURL, status, err := a.connect(ctx)
	if err != nil {
		return ServerStatus{}, err
	}
	out := ServerStatus{URL: serverURL, Status: status.String()}
	err = a.call(ctx, func(m *dss.Model) error {
		out.Services = serviceRows(m.Services())
		return nil
	})
	return out, err
}

func (a *managerAdapter) ServerList(ctx context.Context) ([]ServerEntry, error) {
	var entries []ServerEntry
	err := a.call(ctx, func(m *dss.Model) error {
		servers := m.Servers()
		system := len(servers) - len(m.UserServerList())
		for i, url := range servers {
			entries = append(entries, ServerEntry{
				Index:    i,
				URL:      url,
				System:   i < system,
				Selected: i == m.ServerIndex(),
			})
		}
		return nil
	})
	return entries, err
}

func (a *managerAdapter) editServers(ctx context.Context, edit func(m *dss.Model) error) error {
	if a.transient != "" {
		return fmt.Errorf("--server cannot be combined with changes to the server list")
	}
	return a.call(ctx, func(m *dss.Model) error {
		if err := edit(m); err != nil {
			return err
		}
		if a.opts.Preferences == nil {
			return nil
		}
		return m.SavePreferences(a.opts.Preferences)
	})
}

func (a *managerAdapter) ServerAdd(ctx context.Context, serverURL string) error {
	serverURL = strings.TrimRight(strings.TrimSpace(serverURL), "/")
	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		return fmt.Errorf("server URL %q must start with http:// or https://", serverURL)
	}
	return a.editServers(ctx, func(m *dss.Model) error {
		if slices.Contains(m.Servers(), serverURL) {
			return fmt.Errorf("server %s is already listed", serverURL)
		}
		m.SetUserServerList(append(m.UserServerList(), serverURL))
		return nil
	})
}

func (a *managerAdapter) ServerRemove(ctx context.Context, serverURL string) error {
	serverURL = strings.TrimRight(strings.TrimSpace(serverURL), "/")
	return a.editServers(ctx, func(m *dss.Model) error {
		user := m.UserServerList()
		index := slices.Index(user, serverURL)
		if index < 0 {
			if slices.Contains(m.Servers(), serverURL) {
				return fmt.Errorf("server %s is built in and cannot be removed", serverURL)
			}
			return fmt.Errorf("server %s is not listed", serverURL)
		}
		m.SetUserServerList(slices.Delete(user, index, index+1))
		return nil
	})
}

func (a *managerAdapter) ServerSelect(ctx context.Context, index int) error {
	return a.editServers(ctx, func(m *dss.Model) error {
		return m.SetServerIndex(index)
	})
}

func serviceRows(services []dss.ServiceSummary) []ServiceRow {
	rows := make([]ServiceRow, 0, len(services))
	for i, s := range services {
		rows = append(rows, ServiceRow{
			Index:            i,
			Label:            s.Label(),
			Name:             s.Name,
			Version:          s.Version,
			Hash:             s.Hash,
			ShortDescription: s.ShortDescription,
		})
	}
	return rows
}

func (a *managerAdapter) ServiceList(ctx context.Context) ([]ServiceRow, error) {
	if _, err := a.requireConnection(ctx); err != nil {
		return nil, err
	}
	var rows []ServiceRow
	err := a.call(ctx, func(m *dss.Model) error {
		rows = serviceRows(m.Services())
		return nil
	})
	return rows, err
}

// resolveService accepts a catalog index, a hash or a service name
func resolveService(services []dss.ServiceSummary, ref string) (dss.ServiceSummary, error) {
	if index, err := strconv.Atoi(ref); err == nil && index >= 0 && index < len(services) {
		return services[index], nil
	}
	for _, s := range services {
		if s.Hash == ref {
			return s, nil
		}
	}
	for _, s := range services {
		if s.Name == ref {
			return s, nil
		}
	}
	return dss.ServiceSummary{}, fmt.Errorf("%w: %q", ErrUnknownService, ref)
}

// loadService connects, selects the service and applies its detail. When
// def is given its layers become the binding candidates.
func (a *managerAdapter) loadService(ctx context.Context, ref string, def *workspace.Definition) error {
	if _, err := a.requireConnection(ctx); err != nil {
		return err
	}

	var hash string
	err := a.call(ctx, func(m *dss.Model) error {
		if def != nil {
			m.SetObjects(workspace.NewGraph(def))
		}
		service, err := resolveService(m.Services(), ref)
		if err != nil {
			return err
		}
		hash = service.Hash
		return m.SelectServiceByHash(hash)
	})
	if err != nil {
		return err
	}

	resp := a.opts.Model.FetchServiceDetail(ctx, hash)
	if !resp.Valid {
		return fmt.Errorf("failed to load details of service %s", hash)
	}
	return a.call(ctx, func(m *dss.Model) error {
		m.ApplyServiceDetail(resp)
		return nil
	})
}

// describe must run on the loop
func describe(m *dss.Model) ServiceDetail {
	var detail ServiceDetail
	if service, ok := m.SelectedService(); ok {
		for _, row := range serviceRows(m.Services()) {
			if row.Hash == service.Hash {
				detail.Service = row
			}
		}
	}
	detail.Description, detail.InfoURL = m.ServiceDescription()

	for i, binding := range m.Bindings() {
		row := TagRow{
			Name:        binding.Spec.Name,
			Kind:        binding.Spec.Kind.String(),
			Required:    binding.Spec.Required,
			Hint:        binding.Spec.Hint,
			ObjectID:    binding.ObjectID,
			Description: binding.Description,
		}
		if action := m.TagLoadAction(i); action != dss.LoadNone {
			row.LoadAction = action.String()
		}
		if candidates, err := m.CandidateObjects(i); err == nil {
			for _, c := range candidates {
				row.Candidates = append(row.Candidates, CandidateInfo{ID: c.ID, Name: c.Name})
			}
		}
		detail.Tags = append(detail.Tags, row)
	}
	detail.Complete = m.IsComplete()
	return detail
}

func (a *managerAdapter) ServiceDetail(ctx context.Context, service, workspacePath string) (ServiceDetail, error) {
	var def *workspace.Definition
	if workspacePath != "" {
		var err error
		if def, err = workspace.Load(workspacePath); err != nil {
			return ServiceDetail{}, err
		}
	}
	if err := a.loadService(ctx, service, def); err != nil {
		return ServiceDetail{}, err
	}

	var detail ServiceDetail
	err := a.call(ctx, func(m *dss.Model) error {
		detail = describe(m)
		return nil
	})
	return detail, err
}

func (a *managerAdapter) TagsBind(ctx context.Context, workspacePath, service string, set map[string]uint64, apply bool) (TagBindings, error) {
	def, err := workspace.Load(workspacePath)
	if err != nil {
		return TagBindings{}, err
	}
	if err := a.loadService(ctx, service, def); err != nil {
		return TagBindings{}, err
	}

	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)

	result := TagBindings{Workspace: workspacePath}
	err = a.call(ctx, func(m *dss.Model) error {
		for _, name := range names {
			if err := bindChecked(m, name, set[name]); err != nil {
				return err
			}
		}
		if apply && m.ApplyBindingsToWorkspace() {
			if err := def.Save(workspacePath); err != nil {
				return err
			}
			result.Saved = true
		}
		result.ServiceDetail = describe(m)
		return nil
	})
	return result, err
}

// bindChecked binds only objects the tag accepts
func bindChecked(m *dss.Model, name string, objectID uint64) error {
	for i, binding := range m.Bindings() {
		if binding.Spec.Name != name {
			continue
		}
		candidates, err := m.CandidateObjects(i)
		if err != nil {
			return err
		}
		for _, c := range candidates {
			if c.ID == objectID {
				return m.BindTag(i, objectID)
			}
		}
		return fmt.Errorf("object %d cannot be bound to tag %s", objectID, name)
	}
	return fmt.Errorf("service has no tag %q", name)
}

func (a *managerAdapter) Submit(ctx context.Context, workspacePath, service string) <-chan ProgressEvent {
	out := make(chan ProgressEvent, 16)
	go func() {
		defer close(out)
		send := func(event ProgressEvent) {
			select {
			case out <- event:
			case <-ctx.Done():
			}
		}
		fail := func(err error) {
			send(ProgressEvent{Type: "error", Message: err.Error(), Code: errorCode(err)})
		}

		def, err := workspace.Load(workspacePath)
		if err != nil {
			fail(fmt.Errorf("%w: %w", dss.ErrWorkspaceNotSaved, err))
			return
		}
		send(ProgressEvent{Type: "log", Message: "loading service " + service})
		if err := a.loadService(ctx, service, def); err != nil {
			fail(err)
			return
		}

		tracker := a.opts.Tracker
		tracker.Start(workspacePath, progress.OperationUploading, "Submitting "+workspacePath)

		var (
			mu          sync.Mutex
			lastPercent = -1
		)
		report := func(fraction float64, message string) {
			tracker.Update(workspacePath, progress.OperationUploading, fraction, message)
			transfer, _ := tracker.Get(workspacePath)
			percent := int(transfer.Progress)

			mu.Lock()
			changed := percent != lastPercent
			lastPercent = percent
			mu.Unlock()
			if changed {
				send(ProgressEvent{Type: "progress", Message: message, Percent: percent, Data: transfer})
			}
		}

		var (
			ticketID int64
			hash     string
		)
		err = a.call(ctx, func(m *dss.Model) error {
			hash = m.SelectedServiceHash()
			var err error
			ticketID, err = m.Submit(ctx, workspacePath, hash, report)
			return err
		})
		if err != nil {
			tracker.SetError(workspacePath, err.Error())
			event := ProgressEvent{Type: "error", Message: err.Error(), Code: errorCode(err)}
			if ticketID != 0 {
				event.Data = SubmitResult{TicketID: ticketID, Service: hash}
			}
			send(event)
			return
		}

		message := fmt.Sprintf("submitted ticket %d", ticketID)
		tracker.Complete(workspacePath, message)
		send(ProgressEvent{Type: "success", Message: message, Data: SubmitResult{TicketID: ticketID, Service: hash}})
	}()
	return out
}

func ticketRows(listing dss.TicketListing) []TicketRow {
	rows := make([]TicketRow, 0, len(listing))
	for _, t := range listing.Rows() {
		rows = append(rows, TicketRow{ID: t.ID, Service: t.ServiceName, Status: t.Status.String()})
	}
	return rows
}

// refreshListing fetches the listing off the loop and applies it
func (a *managerAdapter) refreshListing(ctx context.Context) (dss.TicketListing, error) {
	var seq uint64
	if err := a.opts.Loop.Do(ctx, func(m *dss.Model) { seq = m.BeginListingPoll() }); err != nil {
		return nil, err
	}
	resp := a.opts.Model.FetchTicketListing(ctx, seq)
	if !resp.OK {
		return nil, errors.New("failed to fetch the ticket listing")
	}

	var listing dss.TicketListing
	err := a.opts.Loop.Do(ctx, func(m *dss.Model) {
		m.ApplyListing(resp)
		listing = m.Listing()
	})
	return listing, err
}

func (a *managerAdapter) TicketList(ctx context.Context) ([]TicketRow, error) {
	if _, err := a.requireConnection(ctx); err != nil {
		return nil, err
	}
	listing, err := a.refreshListing(ctx)
	if err != nil {
		return nil, err
	}
	return ticketRows(listing), nil
}

// pollDetail runs one detail request for the selected ticket
func (a *managerAdapter) pollDetail(ctx context.Context) error {
	var (
		poll dss.DetailPoll
		ok   bool
	)
	if err := a.opts.Loop.Do(ctx, func(m *dss.Model) { poll, ok = m.BeginDetailPoll() }); err != nil {
		return err
	}
	if !ok {
		return dss.ErrNoTicketSelected
	}
	resp := a.opts.Model.FetchTicketDetail(ctx, poll)
	if !resp.OK {
		logging.Warnf("Detail of ticket %d could not be fetched", poll.TicketID)
	}
	return a.opts.Loop.Do(ctx, func(m *dss.Model) { m.ApplyDetail(resp) })
}

func (a *managerAdapter) TicketLog(ctx context.Context, ticketID int64, follow bool, interval time.Duration) <-chan ProgressEvent {
	out := make(chan ProgressEvent, 16)
	go func() {
		defer close(out)
		send := func(event ProgressEvent) {
			select {
			case out <- event:
			case <-ctx.Done():
			}
		}
		fail := func(err error) {
			send(ProgressEvent{Type: "error", Message: err.Error(), Code: errorCode(err)})
		}

		if _, err := a.requireConnection(ctx); err != nil {
			fail(err)
			return
		}
		listing, err := a.refreshListing(ctx)
		if err != nil {
			fail(err)
			return
		}
		if _, ok := listing[ticketID]; !ok {
			fail(fmt.Errorf("ticket %d: %w", ticketID, dss.ErrUnknownTicket))
			return
		}

		var (
			detailCh, ticketsCh     <-chan dss.Change
			stopDetail, stopTickets func()
		)
		if err := a.opts.Loop.Do(ctx, func(m *dss.Model) {
			m.SelectTicket(ticketID)
			topics := m.Topics()
			detailCh, stopDetail = topics.Detail.Subscribe()
			ticketsCh, stopTickets = topics.Tickets.Subscribe()
		}); err != nil {
			fail(err)
			return
		}
		defer stopDetail()
		defer stopTickets()

		var (
			lastPrinted int64
			lastPercent = -1
		)
		// report sends what is new and returns the ticket status
		report := func() (dss.TicketStatus, error) {
			var (
				detail dss.TicketDetail
				have   bool
				status dss.TicketStatus
			)
			if err := a.opts.Loop.Do(ctx, func(m *dss.Model) {
				detail, have = m.SelectedDetail()
				status = m.Listing()[ticketID].Status
			}); err != nil {
				return dss.StatusUnknown, err
			}
			if !have {
				return status, nil
			}
			for _, entry := range detail.Log {
				if entry.ID <= lastPrinted {
					continue
				}
				lastPrinted = entry.ID
				send(ProgressEvent{Type: "log", Message: formatLogEntry(entry), Data: logLine(entry)})
			}
			if percent := int(detail.Progress * 100); percent != lastPercent {
				lastPercent = percent
				send(ProgressEvent{Type: "progress", Message: fmt.Sprintf("ticket %d: %d%%", ticketID, percent), Percent: percent})
			}
			return status, nil
		}
		finish := func(status dss.TicketStatus) {
			message := fmt.Sprintf("ticket %d %s", ticketID, status)
			if follow && (status == dss.StatusFailed || status == dss.StatusTimeout) {
				send(ProgressEvent{Type: "error", Message: message, Code: "ticket_" + strings.ReplaceAll(status.String(), " ", "_")})
				return
			}
			send(ProgressEvent{Type: "success", Message: message, Data: TicketRow{ID: ticketID, Status: status.String()}})
		}

		if err := a.pollDetail(ctx); err != nil {
			fail(err)
			return
		}
		status, err := report()
		if err != nil {
			fail(err)
			return
		}
		if !follow || status.Terminal() {
			finish(status)
			return
		}

		poller := worker.NewPoller(a.opts.Loop, worker.Schedule{Listing: interval, Detail: interval})
		if err := poller.Start(); err != nil {
			fail(err)
			return
		}
		defer poller.Stop()

		for {
			select {
			case <-ctx.Done():
				fail(ctx.Err())
				return
			case <-a.opts.Loop.Done():
				fail(worker.ErrStopped)
				return
			case <-detailCh:
			case <-ticketsCh:
			}
			status, err := report()
			if err != nil {
				fail(err)
				return
			}
			if status.Terminal() {
				// The listing can report the end before the last log
				// entries have been polled
				if err := a.pollDetail(ctx); err != nil {
					logging.Warnf("Final detail poll of ticket %d failed: %v", ticketID, err)
				} else if _, err := report(); err != nil {
					fail(err)
					return
				}
				finish(status)
				return
			}
		}
	}()
	return out
}

func logLine(entry dss.LogEntry) LogLine {
	line := LogLine{
		ID:        entry.ID,
		Category:  entry.Category.String(),
		Timestamp: entry.Timestamp,
		Text:      entry.Text,
	}
	for _, att := range entry.Attachments {
		line.Attachments = append(line.Attachments, att.URL)
	}
	return line
}

func formatLogEntry(entry dss.LogEntry) string {
	text := fmt.Sprintf("%s [%s] %s", entry.Timestamp, entry.Category, entry.Text)
	for _, att := range entry.Attachments {
		text += fmt.Sprintf("\n    %s: %s", att.Description, att.URL)
	}
	return strings.TrimSpace(text)
}

func (a *managerAdapter) TicketDelete(ctx context.Context, ticketID int64) error {
	serverURL, err := a.requireConnection(ctx)
	if err != nil {
		return err
	}
	if _, err := a.refreshListing(ctx); err != nil {
		return err
	}
	if err := a.call(ctx, func(m *dss.Model) error {
		return m.DeleteTicket(ctx, ticketID)
	}); err != nil {
		return err
	}
	if a.opts.History != nil {
		if err := a.opts.History.Forget(ctx, serverURL, ticketID); err != nil {
			logging.Warnf("Failed to forget ticket %d: %v", ticketID, err)
		}
	}
	return nil
}

func (a *managerAdapter) TicketDownload(ctx context.Context, ticketID int64) ([]string, error) {
	if _, err := a.requireConnection(ctx); err != nil {
		return nil, err
	}
	listing, err := a.refreshListing(ctx)
	if err != nil {
		return nil, err
	}
	if _, ok := listing[ticketID]; !ok {
		return nil, fmt.Errorf("ticket %d: %w", ticketID, dss.ErrUnknownTicket)
	}

	var files []string
	err = a.call(ctx, func(m *dss.Model) error {
		m.SelectTicket(ticketID)
		var err error
		files, err = m.DownloadResults(ctx)
		return err
	})
	return files, err
}

func (a *managerAdapter) TicketHistory(ctx context.Context, limit int) ([]HistoryRow, error) {
	if a.opts.History == nil {
		return nil, ErrHistoryDisabled
	}
	submissions, err := a.opts.History.List(ctx, "", limit)
	if err != nil {
		return nil, err
	}
	rows := make([]HistoryRow, 0, len(submissions))
	for _, s := range submissions {
		rows = append(rows, HistoryRow{
			TicketID:      s.TicketID,
			ServerURL:     s.ServerURL,
			ServiceHash:   s.ServiceHash,
			WorkspacePath: s.WorkspacePath,
			SubmittedAt:   s.SubmittedAt,
		})
	}
	return rows, nil
}

func (a *managerAdapter) DBStatus(_ context.Context) (DBStatus, error) {
	if a.opts.SchemaVersion == nil {
		return DBStatus{}, database.ErrNotInitialized
	}
	version, err := a.opts.SchemaVersion()
	if err != nil {
		return DBStatus{}, err
	}
	return DBStatus{Path: a.opts.DatabasePath, Version: version}, nil
}
