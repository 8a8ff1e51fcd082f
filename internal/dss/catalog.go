package dss

import (
	"context"
	"fmt"
	"sort"

	"github.com/ontree-co/treeseg/internal/logging"
)

// FetchCatalog lists the services offered by the current server. Safe off the owner.
func (m *Model) FetchCatalog(ctx context.Context) ([]ServiceSummary, bool) {
	ok, body := m.transport.Get(ctx, "api/services?format=json")
	if !ok {
		logging.Debugf("Service listing failed: %s", body)
		return nil, false
	}
	services, valid := decodeServiceListing(body)
	if !valid {
		// A reachable server with an unreadable body still counts as answering
		logging.Warnf("Service listing was not valid JSON")
		return nil, true
	}
	return services, true
}

// SetCatalog replaces the service listing. The list is ordered by name and
// then version; the selected service is kept if its hash is still present.
func (m *Model) SetCatalog(services []ServiceSummary) {
	previous, hadSelection := m.SelectedService()

	sorted := append([]ServiceSummary(nil), services...)
	sort.SliceStable(sorted, func(i, j int) bool { return serviceLess(sorted[i], sorted[j]) })

	m.services = sorted
	m.labels = make([]string, len(sorted))
	m.serviceIndex = -1
	for i, s := range sorted {
		m.labels[i] = s.Label()
	}
	if len(sorted) > 0 {
		m.serviceIndex = 0
		if hadSelection {
			for i, s := range sorted {
				if s.Hash == previous.Hash {
					m.serviceIndex = i
					break
				}
			}
		}
	}
	m.topics.Catalog.emit(ChangeStructure)
}

// Services returns the ordered catalog
func (m *Model) Services() []ServiceSummary {
	return append([]ServiceSummary(nil), m.services...)
}

// ServiceLabels returns one display label per catalog entry
func (m *Model) ServiceLabels() []string {
	return append([]string(nil), m.labels...)
}

// SelectService selects a catalog entry by position
func (m *Model) SelectService(index int) error {
	if index < 0 || index >= len(m.services) {
		return fmt.Errorf("service index %d out of range [0,%d)", index, len(m.services))
	}
	if index != m.serviceIndex {
		m.serviceIndex = index
		m.topics.Catalog.emit(ChangeValues)
	}
	return nil
}

// SelectServiceByHash selects the catalog entry with the given hash
func (m *Model) SelectServiceByHash(hash string) error {
	for i, s := range m.services {
		if s.Hash == hash {
			return m.SelectService(i)
		}
	}
	return fmt.Errorf("service %q: %w", hash, ErrNoService)
}

// SelectedService returns the selected catalog entry
func (m *Model) SelectedService() (ServiceSummary, bool) {
	if m.serviceIndex < 0 || m.serviceIndex >= len(m.services) {
		return ServiceSummary{}, false
	}
	return m.services[m.serviceIndex], true
}

// SelectedServiceHash returns the hash of the selected service, or ""
func (m *Model) SelectedServiceHash() string {
	s, _ := m.SelectedService()
	return s.Hash
}

// FetchServiceDetail retrieves the description and tag requirements of a
// service. Failures yield a response with Valid unset. Safe off the owner.
func (m *Model) FetchServiceDetail(ctx context.Context, hash string) (resp ServiceDetailResponse) {
	defer func() {
		if r := recover(); r != nil {
			logging.Warnf("Service detail for %s failed: %v", hash, r)
			resp = ServiceDetailResponse{}
		}
	}()

	ok, body := m.transport.Get(ctx, "api/services/%s/detail", hash)
	if !ok {
		logging.Debugf("Service detail for %s failed: %s", hash, body)
		return ServiceDetailResponse{}
	}
	return decodeServiceDetail(hash, body)
}

// ApplyServiceDetail stores the description of a service and loads its tag
// requirements. Invalid responses leave the previous detail in place.
func (m *Model) ApplyServiceDetail(resp ServiceDetailResponse) {
	if !resp.Valid {
		return
	}
	m.serviceDesc = resp.LongDescription
	m.serviceInfoURL = resp.InfoURL
	m.serviceDetailOf = resp.Hash
	m.topics.Catalog.emit(ChangeValues)

	m.LoadTagSpecs(resp.TagSpecs)
}

// ServiceDescription returns the long description and info URL of the last
// applied service detail.
func (m *Model) ServiceDescription() (description, infoURL string) {
	return m.serviceDesc, m.serviceInfoURL
}

// ServiceDetailHash is the service the current tag specs belong to
func (m *Model) ServiceDetailHash() string {
	return m.serviceDetailOf
}
