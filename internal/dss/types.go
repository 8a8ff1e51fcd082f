package dss

import (
	"sort"
)

// ServerStatus is the connectivity state of the selected server
type ServerStatus int

const (
	NotConnected ServerStatus = iota
	ConnectedUnauthorized
	ConnectedAuthorized
)

var serverStatusStrings = map[ServerStatus]string{
	NotConnected:          "Not connected",
	ConnectedUnauthorized: "Connected, Not Authorized",
	ConnectedAuthorized:   "Connected and Authorized",
}

func (s ServerStatus) String() string {
	if str, ok := serverStatusStrings[s]; ok {
		return str
	}
	return "Unknown"
}

// ServiceSummary is one catalog entry. Hash identifies the service; name and
// version only order the listing.
type ServiceSummary struct {
	Name             string `json:"name"`
	Version          string `json:"version"`
	Hash             string `json:"githash"`
	ShortDescription string `json:"shortdesc"`
}

// Label is the human readable form shown when choosing a service
func (s ServiceSummary) Label() string {
	return s.Name + " " + s.Version + " : " + s.ShortDescription
}

// serviceLess orders by name, then by version. Versions are compared as
// plain strings, so "10.0" sorts before "9.0".
func serviceLess(a, b ServiceSummary) bool {
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	return a.Version < b.Version
}

// TagKind is what kind of workspace object a tag must be bound to
type TagKind int

const (
	TagLayerAnatomical TagKind = iota
	TagLayerMain
	TagLayerOverlay
	TagSegmentationLabel
	TagPointLandmark
	TagUnknown
)

var tagKindWireNames = map[string]TagKind{
	"AnatomicalImage":   TagLayerAnatomical,
	"MainImage":         TagLayerMain,
	"OverlayImage":      TagLayerOverlay,
	"SegmentationLabel": TagSegmentationLabel,
	"PointLandmark":     TagPointLandmark,
	"Unknown":           TagUnknown,
}

var tagKindStrings = []string{
	"Image Layer", "Main Image", "Overlay Image", "Segmentation Label", "Point Landmark", "Unknown",
}

// ParseTagKind maps the service's type name, defaulting to TagUnknown
func ParseTagKind(name string) TagKind {
	if kind, ok := tagKindWireNames[name]; ok {
		return kind
	}
	return TagUnknown
}

func (k TagKind) String() string {
	if k < 0 || int(k) >= len(tagKindStrings) {
		return "Unknown"
	}
	return tagKindStrings[k]
}

// IsLayer reports whether tags of this kind are bound to image layers
func (k TagKind) IsLayer() bool {
	return k == TagLayerMain || k == TagLayerOverlay || k == TagLayerAnatomical
}

// TagSpec is a requirement declared by a service
type TagSpec struct {
	Name     string  `json:"name"`
	Kind     TagKind `json:"kind"`
	Required bool    `json:"required"`
	Hint     string  `json:"hint,omitempty"`
}

// TagTargetSpec binds a TagSpec to a workspace object. ObjectID 0 means unbound.
type TagTargetSpec struct {
	Spec        TagSpec `json:"spec"`
	ObjectID    uint64  `json:"object_id"`
	Description string  `json:"description"`
}

// Bound reports whether an object has been assigned
func (t TagTargetSpec) Bound() bool {
	return t.ObjectID != 0
}

// TicketStatus is the remote state of a ticket
type TicketStatus int

const (
	StatusInit TicketStatus = iota
	StatusReady
	StatusClaimed
	StatusSuccess
	StatusFailed
	StatusTimeout
	StatusUnknown
)

var ticketStatusWireNames = []string{"init", "ready", "claimed", "success", "failed", "timeout", "unknown"}

var ticketStatusStrings = []string{"initialized", "ready", "claimed", "success", "failed", "timed out", "unknown"}

// ParseTicketStatus maps the service's status name, defaulting to StatusUnknown
func ParseTicketStatus(name string) TicketStatus {
	for i, wire := range ticketStatusWireNames {
		if wire == name {
			return TicketStatus(i)
		}
	}
	return StatusUnknown
}

func (s TicketStatus) String() string {
	if s < 0 || int(s) >= len(ticketStatusStrings) {
		return "unknown"
	}
	return ticketStatusStrings[s]
}

// Terminal reports whether the service will not change this ticket any more
func (s TicketStatus) Terminal() bool {
	return s == StatusSuccess || s == StatusFailed || s == StatusTimeout
}

// TicketStatusSummary is one row of the ticket listing
type TicketStatusSummary struct {
	ID          int64        `json:"id"`
	ServiceName string       `json:"service"`
	Status      TicketStatus `json:"status"`
}

// TicketListing maps ticket id to its summary
type TicketListing map[int64]TicketStatusSummary

// IDs returns the ticket ids in ascending order
func (l TicketListing) IDs() []int64 {
	ids := make([]int64, 0, len(l))
	for id := range l {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Rows returns the summaries in ascending id order
func (l TicketListing) Rows() []TicketStatusSummary {
	ids := l.IDs()
	rows := make([]TicketStatusSummary, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, l[id])
	}
	return rows
}

func (l TicketListing) sameKeys(other TicketListing) bool {
	if len(l) != len(other) {
		return false
	}
	for id := range l {
		if _, ok := other[id]; !ok {
			return false
		}
	}
	return true
}

func (l TicketListing) clone() TicketListing {
	out := make(TicketListing, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// LogCategory classifies a ticket log entry
type LogCategory int

const (
	LogInfo LogCategory = iota
	LogWarning
	LogError
	LogUnknown
)

var logCategoryWireNames = []string{"info", "warning", "error", "unknown"}

// ParseLogCategory maps the service's category name, defaulting to LogUnknown
func ParseLogCategory(name string) LogCategory {
	for i, wire := range logCategoryWireNames {
		if wire == name {
			return LogCategory(i)
		}
	}
	return LogUnknown
}

func (c LogCategory) String() string {
	if c < 0 || int(c) >= len(logCategoryWireNames) {
		return "unknown"
	}
	return logCategoryWireNames[c]
}

// Attachment is a file the service attached to a log entry
type Attachment struct {
	Description string `json:"description"`
	URL         string `json:"url"`
	MimeType    string `json:"mime_type"`
}

// LogEntry is one line of a ticket's append-only log
type LogEntry struct {
	ID          int64        `json:"id"`
	Category    LogCategory  `json:"category"`
	Timestamp   string       `json:"atime"`
	Text        string       `json:"message"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// TicketDetail is the progress and accumulated log of one ticket
type TicketDetail struct {
	TicketID int64      `json:"ticket_id"`
	Progress float64    `json:"progress"`
	Log      []LogEntry `json:"log"`
}

// LastLogID returns the id of the newest log entry, or 0 for an empty log
func (d TicketDetail) LastLogID() int64 {
	if len(d.Log) == 0 {
		return 0
	}
	return d.Log[len(d.Log)-1].ID
}

// StatusCheckResponse is produced by ProbeConnection
type StatusCheckResponse struct {
	Connected     bool
	Authenticated bool
	Services      []ServiceSummary
}

// ServiceDetailResponse is produced by FetchServiceDetail. Callers must check Valid.
type ServiceDetailResponse struct {
	Valid           bool
	Hash            string
	LongDescription string
	InfoURL         string
	TagSpecs        []TagSpec
}

// TicketListingResponse is produced by FetchTicketListing
type TicketListingResponse struct {
	Seq     uint64
	OK      bool
	Listing TicketListing
}

// TicketDetailResponse is produced by FetchTicketDetail. Log holds only the
// entries newer than the watermark the request was made with.
type TicketDetailResponse struct {
	Seq      uint64
	OK       bool
	TicketID int64
	Progress float64
	Log      []LogEntry
}
