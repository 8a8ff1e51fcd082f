package dss

import (
	"context"
	"fmt"

	"github.com/ontree-co/treeseg/internal/logging"
)

const (
	prefUserServerList       = "UserServerList"
	prefPreferredServerIndex = "PreferredServerIndex"
)

// ProbeConnection authenticates against serverURL when a token is given and
// then tries to list services. It never panics and never returns an error;
// every failure shows up as a flag in the response. Safe off the owner.
func (m *Model) ProbeConnection(ctx context.Context, serverURL, token string) (resp StatusCheckResponse) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warnf("Connection probe of %s failed: %v", serverURL, r)
			resp = StatusCheckResponse{}
		}
	}()

	if token == "" {
		m.transport.SetServerURL(serverURL)
	} else if !m.transport.Authenticate(ctx, serverURL, token) {
		return StatusCheckResponse{Connected: true}
	}

	services, ok := m.FetchCatalog(ctx)
	if !ok {
		return StatusCheckResponse{}
	}
	return StatusCheckResponse{Connected: true, Authenticated: true, Services: services}
}

// ApplyStatusCheck records the outcome of ProbeConnection
func (m *Model) ApplyStatusCheck(resp StatusCheckResponse) {
	prev := m.status
	switch {
	case resp.Connected && resp.Authenticated:
		m.status = ConnectedAuthorized
		// The session cookie carries authentication from here on
		m.token = ""
	case resp.Connected:
		m.status = ConnectedUnauthorized
	default:
		m.status = NotConnected
	}
	if prev != m.status {
		logging.Infof("Server %s: %s", m.ServerURL(), m.status)
	}
	m.topics.Connection.emit(ChangeValues)

	m.SetCatalog(resp.Services)
}

// Status returns the connectivity state
func (m *Model) Status() ServerStatus {
	return m.status
}

// ServerStatusString is the display form of Status
func (m *Model) ServerStatusString() string {
	return m.status.String()
}

// Servers returns the built-in URLs followed by the user's
func (m *Model) Servers() []string {
	return append([]string(nil), m.servers...)
}

// UserServerList returns only the user supplied URLs
func (m *Model) UserServerList() []string {
	if len(m.servers) <= len(m.systemServers) {
		return nil
	}
	return append([]string(nil), m.servers[len(m.systemServers):]...)
}

// SetUserServerList replaces the user URLs. The selected server stays
// selected if it is still listed, otherwise the first built-in one is.
func (m *Model) SetUserServerList(urls []string) {
	current := m.ServerURL()

	m.servers = append(append([]string(nil), m.systemServers...), urls...)
	m.serverIndex = 0
	for i, u := range m.servers {
		if u == current {
			m.serverIndex = i
			break
		}
	}
	if m.ServerURL() != current {
		m.resetServerState()
	}
	m.topics.Connection.emit(ChangeStructure)
}

// ServerIndex returns the position of the selected server
func (m *Model) ServerIndex() int {
	return m.serverIndex
}

// SetServerIndex selects a server by position. Switching to another server
// forgets everything learned from the previous one.
func (m *Model) SetServerIndex(index int) error {
	if index < 0 || index >= len(m.servers) {
		return fmt.Errorf("server index %d out of range [0,%d)", index, len(m.servers))
	}
	if index != m.serverIndex {
		current := m.ServerURL()
		m.serverIndex = index
		if m.ServerURL() != current {
			m.resetServerState()
		}
		m.topics.Connection.emit(ChangeValues)
	}
	return nil
}

// resetServerState drops the connection status, catalog, service detail and
// tickets of the previous server. Listing and detail requests still in
// flight are outdated.
func (m *Model) resetServerState() {
	m.status = NotConnected

	m.SetCatalog(nil)
	m.serviceDesc, m.serviceInfoURL, m.serviceDetailOf = "", "", ""
	m.LoadTagSpecs(nil)

	m.SelectTicket(0)
	m.lastListingSeq = m.listingSeq
	m.lastDetailSeq = m.detailSeq
	if len(m.listing) > 0 {
		m.listing = TicketListing{}
		m.topics.Tickets.emit(ChangeStructure)
	}
}

// ServerURL returns the selected server, or "" when none is configured
func (m *Model) ServerURL() string {
	if m.serverIndex < 0 || m.serverIndex >= len(m.servers) {
		return ""
	}
	return m.servers[m.serverIndex]
}

// URL joins path onto the selected server
func (m *Model) URL(path string) string {
	if path == "" {
		return m.ServerURL()
	}
	return m.ServerURL() + "/" + path
}

// Token returns the pending authentication token
func (m *Model) Token() string {
	return m.token
}

// SetToken stores a token for the next probe
func (m *Model) SetToken(token string) {
	if token != m.token {
		m.token = token
		m.topics.Connection.emit(ChangeValues)
	}
}

// LoadPreferences restores the user server list and preferred server
func (m *Model) LoadPreferences(prefs PreferenceStore) error {
	urls, err := prefs.GetStrings(prefUserServerList)
	if err != nil {
		return fmt.Errorf("failed to load server list: %w", err)
	}
	m.SetUserServerList(urls)

	index, ok, err := prefs.GetInt(prefPreferredServerIndex)
	if err != nil {
		return fmt.Errorf("failed to load preferred server: %w", err)
	}
	if ok && index >= 0 && index < len(m.servers) {
		return m.SetServerIndex(index)
	}
	return nil
}

// SavePreferences persists the user server list and preferred server
func (m *Model) SavePreferences(prefs PreferenceStore) error {
	if err := prefs.PutStrings(prefUserServerList, m.UserServerList()); err != nil {
		return fmt.Errorf("failed to save server list: %w", err)
	}
	if err := prefs.PutInt(prefPreferredServerIndex, m.serverIndex); err != nil {
		return fmt.Errorf("failed to save preferred server: %w", err)
	}
	return nil
}
