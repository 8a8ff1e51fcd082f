package dss

import (
	"github.com/tidwall/gjson"
)

// Response bodies are read leniently: a missing or mistyped field takes its
// zero value instead of failing the whole document.

func decodeServiceListing(body string) ([]ServiceSummary, bool) {
	if !gjson.Valid(body) {
		return nil, false
	}
	var services []ServiceSummary
	gjson.Get(body, "result").ForEach(func(_, v gjson.Result) bool {
		services = append(services, ServiceSummary{
			Name:             v.Get("name").String(),
			Version:          v.Get("version").String(),
			Hash:             v.Get("githash").String(),
			ShortDescription: v.Get("shortdesc").String(),
		})
		return true
	})
	return services, true
}

func decodeServiceDetail(hash, body string) ServiceDetailResponse {
	if !gjson.Valid(body) {
		return ServiceDetailResponse{}
	}
	doc := gjson.Parse(body)
	resp := ServiceDetailResponse{
		Valid:           true,
		Hash:            hash,
		LongDescription: doc.Get("longdesc").String(),
		InfoURL:         doc.Get("url").String(),
	}
	doc.Get("tags").ForEach(func(_, v gjson.Result) bool {
		resp.TagSpecs = append(resp.TagSpecs, TagSpec{
			Name:     v.Get("name").String(),
			Kind:     ParseTagKind(v.Get("type").String()),
			Required: v.Get("required").Bool(),
			Hint:     v.Get("hint").String(),
		})
		return true
	})
	return resp
}

func decodeTicketListing(body string) (TicketListing, bool) {
	if !gjson.Valid(body) {
		return nil, false
	}
	listing := TicketListing{}
	gjson.Get(body, "result").ForEach(func(_, v gjson.Result) bool {
		id := v.Get("id").Int()
		listing[id] = TicketStatusSummary{
			ID:          id,
			ServiceName: v.Get("service").String(),
			Status:      ParseTicketStatus(v.Get("status").String()),
		}
		return true
	})
	return listing, true
}

func decodeTicketDetail(body string) (float64, []LogEntry, bool) {
	if !gjson.Valid(body) {
		return 0, nil, false
	}
	result := gjson.Get(body, "result")
	var entries []LogEntry
	result.Get("log").ForEach(func(_, v gjson.Result) bool {
		entry := LogEntry{
			ID:        v.Get("id").Int(),
			Category:  ParseLogCategory(v.Get("category").String()),
			Timestamp: v.Get("atime").String(),
			Text:      v.Get("message").String(),
		}
		v.Get("attachments").ForEach(func(_, a gjson.Result) bool {
			entry.Attachments = append(entry.Attachments, Attachment{
				Description: a.Get("description").String(),
				URL:         a.Get("url").String(),
				MimeType:    a.Get("mime_type").String(),
			})
			return true
		})
		entries = append(entries, entry)
		return true
	})
	return result.Get("progress").Float(), entries, true
}
