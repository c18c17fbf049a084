// Package calendar renders meeting occurrences as iCalendar documents.
package calendar

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	"github.com/example/meeting-scheduler/internal/application"
)

// ContentType is the media type of exported documents.
const ContentType = "text/calendar; charset=utf-8"

const (
	productID = "-//meeting-scheduler//Series Export//EN"
	uidDomain = "meeting-scheduler"
)

// UID returns the iCalendar UID used for a meeting.
func UID(meetingID string) string {
	return meetingID + "@" + uidDomain
}

// Build assembles a calendar holding one VEVENT per meeting. stamp is
// written as DTSTAMP on every event.
func Build(name string, meetings []application.Meeting, stamp time.Time) *ical.Calendar {
	cal := ical.NewCalendar()
	cal.SetProductId(productID)
	cal.SetMethod(ical.MethodPublish)
	if name = strings.TrimSpace(name); name != "" {
		cal.SetXWRCalName(name)
	}

	for _, meeting := range meetings {
		addEvent(cal, meeting, stamp.UTC())
	}
	return cal
}

// Encode writes the calendar for meetings to w.
func Encode(w io.Writer, name string, meetings []application.Meeting, stamp time.Time) error {
	if _, err := io.WriteString(w, Build(name, meetings, stamp).Serialize()); err != nil {
		return fmt.Errorf("write calendar: %w", err)
	}
	return nil
}

func addEvent(cal *ical.Calendar, meeting application.Meeting, stamp time.Time) {
	event := cal.AddEvent(UID(meeting.ID))
	event.SetDtStampTime(stamp)
	event.SetCreatedTime(meeting.CreatedAt.UTC())
	event.SetStartAt(meeting.StartDate.UTC())
	if end, ok := endOf(meeting); ok {
		event.SetEndAt(end)
	}
	event.SetSummary(meeting.Title)
	if meeting.Location != "" {
		event.SetLocation(meeting.Location)
	}
	if meeting.Notes != "" {
		event.SetDescription(meeting.Notes)
	}
	event.SetProperty(ical.ComponentPropertySequence, strconv.Itoa(meeting.NumReschedules))
	if meeting.Completed {
		event.SetProperty(ical.ComponentPropertyStatus, "CONFIRMED")
	}
	if meeting.RecurrenceID != nil {
		event.SetProperty(ical.ComponentProperty("X-SCHEDULER-RECURRENCE-ID"), *meeting.RecurrenceID)
	}
}

// endOf prefers the explicit end and falls back to start plus duration.
func endOf(meeting application.Meeting) (time.Time, bool) {
	if meeting.EndDate != nil {
		return meeting.EndDate.UTC(), true
	}
	if meeting.Duration > 0 {
		return meeting.StartDate.UTC().Add(meeting.Duration), true
	}
	return time.Time{}, false
}
