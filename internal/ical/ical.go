// Package ical renders a note's date range as a single-event iCalendar
// document for the calendar-export endpoint.
package ical

import (
	"fmt"
	"strings"
	"time"

	"github.com/starford/wunjo/internal/apperr"
	"github.com/starford/wunjo/internal/models"
)

// Accepted input layouts for the ISO-like date strings clients send.
var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Timestamp formats an ISO-like date string as the iCalendar UTC form
// YYYYMMDDTHHMMSSZ.
func Timestamp(iso string) (string, error) {
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, iso)
		if err == nil {
			return t.UTC().Format("20060102T150405Z"), nil
		}
	}
	return "", fmt.Errorf("ical: unparseable date %q", iso)
}

// Build renders the VCALENDAR document for a note. A note without a start
// date cannot be exported (apperr.ErrInvalidPayload); a missing end date
// falls back to the start date.
func Build(n models.Note) (string, error) {
	if n.StartDate == "" {
		return "", fmt.Errorf("ical: note %q has no start date: %w", n.ID, apperr.ErrInvalidPayload)
	}
	dtStart, err := Timestamp(n.StartDate)
	if err != nil {
		return "", err
	}
	dtEnd := dtStart
	if n.EndDate != "" {
		if dtEnd, err = Timestamp(n.EndDate); err != nil {
			return "", err
		}
	}

	summary := n.Title
	if summary == "" {
		summary = "Plan de Viaje"
	}

	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\n")
	b.WriteString("VERSION:2.0\r\n")
	b.WriteString("CALSCALE:GREGORIAN\r\n")
	b.WriteString("BEGIN:VEVENT\r\n")
	fmt.Fprintf(&b, "UID:%s\r\n", n.ID)
	fmt.Fprintf(&b, "SUMMARY:%s\r\n", escape(summary))
	fmt.Fprintf(&b, "DESCRIPTION:%s\\nEnlace: %s\r\n", escape(n.Content), escape(n.Link))
	fmt.Fprintf(&b, "DTSTAMP:%s\r\n", dtStart)
	fmt.Fprintf(&b, "DTSTART:%s\r\n", dtStart)
	fmt.Fprintf(&b, "DTEND:%s\r\n", dtEnd)
	b.WriteString("END:VEVENT\r\n")
	b.WriteString("END:VCALENDAR\r\n")
	return b.String(), nil
}

// escape applies RFC 5545 text escaping to property values.
func escape(s string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		";", `\;`,
		",", `\,`,
		"\n", `\n`,
	)
	return r.Replace(s)
}
