// Package kafka publishes calendar event requests as iCalendar (RFC 5545)
// messages to a Kafka topic. A downstream calendar bridge applies them to the
// user's calendar.
package kafka

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/emersion/go-ical"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/warning-calendar-service/internal/config"
	"github.com/couchcryptid/warning-calendar-service/internal/domain"
)

const (
	productID = "-//warncal//Weather Warning Calendar//EN"

	methodRequest = "REQUEST"
	methodCancel  = "CANCEL"

	propColorID = "X-WARNCAL-COLOR-ID"

	popupReminder = 60 * time.Minute
	emailReminder = 120 * time.Minute
)

// colorIDs follow the Google Calendar event palette.
var colorIDs = map[domain.Severity]string{
	domain.SeverityLow:     "7",
	domain.SeverityMedium:  "5",
	domain.SeverityHigh:    "11",
	domain.SeverityExtreme: "4",
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Calendar implements dispatch.Calendar over Kafka.
type Calendar struct {
	writer messageWriter
	logger *slog.Logger
}

// NewCalendar creates a Kafka producer for the configured calendar topic.
func NewCalendar(cfg *config.Config, logger *slog.Logger) *Calendar {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaCalendarTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Calendar{writer: w, logger: logger}
}

// CreateEvent publishes a REQUEST for the warning and returns the event UID.
// The UID is derived from the user and warning, so a repeated request after a
// crash updates the same calendar entry downstream.
func (c *Calendar) CreateEvent(ctx context.Context, u domain.User, w domain.Warning) (string, error) {
	eventID := EventID(u.Email, w.ID)
	body, err := encode(methodRequest, newWarningEvent(eventID, u, w))
	if err != nil {
		return "", err
	}

	msg := kafkago.Message{
		Key:   []byte(eventID),
		Value: body,
		Headers: []kafkago.Header{
			{Key: "method", Value: []byte(methodRequest)},
			{Key: "user_email", Value: []byte(u.Email)},
			{Key: "warning_id", Value: []byte(w.ID)},
			{Key: "content_type", Value: []byte("text/calendar")},
		},
	}
	if err := c.writer.WriteMessages(ctx, msg); err != nil {
		return "", fmt.Errorf("publish calendar event: %w", err)
	}
	return eventID, nil
}

// DeleteEvent publishes a CANCEL for eventID.
func (c *Calendar) DeleteEvent(ctx context.Context, eventID string) (bool, error) {
	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, eventID)
	event.Props.SetDateTime(ical.PropDateTimeStamp, domain.Now())
	event.Props.SetText(ical.PropStatus, "CANCELLED")

	body, err := encode(methodCancel, event)
	if err != nil {
		return false, err
	}
	msg := kafkago.Message{
		Key:   []byte(eventID),
		Value: body,
		Headers: []kafkago.Header{
			{Key: "method", Value: []byte(methodCancel)},
			{Key: "content_type", Value: []byte("text/calendar")},
		},
	}
	if err := c.writer.WriteMessages(ctx, msg); err != nil {
		return false, fmt.Errorf("publish calendar cancel: %w", err)
	}
	c.logger.Info("calendar event cancelled", "event_id", eventID)
	return true, nil
}

// Close flushes and closes the producer.
func (c *Calendar) Close() error {
	return c.writer.Close()
}

// EventID is the deterministic calendar UID for a (user, warning) pair.
func EventID(email, warningID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("warncal:"+email+"|"+warningID)).String()
}

func newWarningEvent(eventID string, u domain.User, w domain.Warning) *ical.Event {
	summary := "Weather Warning: " + w.Type.Title()

	event := ical.NewEvent()
	event.Props.SetText(ical.PropUID, eventID)
	event.Props.SetDateTime(ical.PropDateTimeStamp, domain.Now())
	event.Props.SetDateTime(ical.PropDateTimeStart, w.StartTime.UTC())
	event.Props.SetDateTime(ical.PropDateTimeEnd, w.EndTime.UTC())
	event.Props.SetText(ical.PropSummary, summary)
	event.Props.SetText(ical.PropDescription, w.Description)
	event.Props.SetText(ical.PropLocation, w.AreaText())
	event.Props.SetText(propColorID, colorID(w.Severity))

	attendee := ical.NewProp(ical.PropAttendee)
	attendee.Value = "mailto:" + u.Email
	event.Props.Set(attendee)

	event.Children = append(event.Children,
		newAlarm("DISPLAY", popupReminder, summary, w.Description, ""),
		newAlarm("EMAIL", emailReminder, summary, w.Description, u.Email),
	)
	return event
}

func newAlarm(action string, before time.Duration, summary, description, email string) *ical.Component {
	alarm := ical.NewComponent(ical.CompAlarm)
	alarm.Props.SetText(ical.PropAction, action)

	trigger := ical.NewProp(ical.PropTrigger)
	trigger.Value = fmt.Sprintf("-PT%dM", int(before.Minutes()))
	alarm.Props.Set(trigger)

	alarm.Props.SetText(ical.PropDescription, description)
	if email != "" {
		alarm.Props.SetText(ical.PropSummary, summary)
		attendee := ical.NewProp(ical.PropAttendee)
		attendee.Value = "mailto:" + email
		alarm.Props.Set(attendee)
	}
	return alarm
}

func encode(method string, event *ical.Event) ([]byte, error) {
	cal := ical.NewCalendar()
	cal.Props.SetText(ical.PropVersion, "2.0")
	cal.Props.SetText(ical.PropProductID, productID)
	cal.Props.SetText(ical.PropMethod, method)
	cal.Children = append(cal.Children, event.Component)

	var buf bytes.Buffer
	if err := ical.NewEncoder(&buf).Encode(cal); err != nil {
		return nil, fmt.Errorf("encode icalendar: %w", err)
	}
	return buf.Bytes(), nil
}

func colorID(s domain.Severity) string {
	if id, ok := colorIDs[s]; ok {
		return id
	}
	return "1"
}
