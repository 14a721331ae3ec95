package domain

import "time"

// MessageID identifies one message in the selected mailbox (an IMAP UID).
type MessageID uint32

// RawMessage is the full RFC 822 content of one fetched message.
type RawMessage []byte

type MailboxCredentials struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Secret   string `json:"-"`
}

type AttachmentKind string

const (
	AttachmentImage AttachmentKind = "image"
	AttachmentFile  AttachmentKind = "file"
)

// Attachment is a MIME part written to the staging directory.
type Attachment struct {
	Kind     AttachmentKind `json:"kind"`
	Path     string         `json:"path"`
	Filename string         `json:"filename"`
}

type ParsedMessage struct {
	Body        string       `json:"body"`
	Attachments []Attachment `json:"attachments"`
}

// NotificationUnit is one outbound notification: the body text plus at most
// one attachment.
type NotificationUnit struct {
	Text       string      `json:"text"`
	Attachment *Attachment `json:"attachment,omitempty"`
}

// Units expands the message into notification units: one per attachment,
// each captioned with the body, or a single text-only unit when there are
// no attachments.
func (m ParsedMessage) Units() []NotificationUnit {
	if len(m.Attachments) == 0 {
		return []NotificationUnit{{Text: m.Body}}
	}
	units := make([]NotificationUnit, 0, len(m.Attachments))
	for i := range m.Attachments {
		att := m.Attachments[i]
		units = append(units, NotificationUnit{Text: m.Body, Attachment: &att})
	}
	return units
}

// Kind reports the delivery kind of the unit: "text", "image" or "file".
func (u NotificationUnit) Kind() string {
	if u.Attachment == nil {
		return "text"
	}
	return string(u.Attachment.Kind)
}

type Delivery struct {
	ID        string    `json:"id"`
	CycleID   string    `json:"cycle_id"`
	MessageID MessageID `json:"message_id"`
	Kind      string    `json:"kind"`
	Filename  string    `json:"filename,omitempty"`
	OK        bool      `json:"ok"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

type CycleReport struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	FinishedAt  time.Time `json:"finished_at"`
	Connected   bool      `json:"connected"`
	Found       int       `json:"found"`
	Fetched     int       `json:"fetched"`
	FetchFailed int       `json:"fetch_failed"`
	Sent        int       `json:"sent"`
	SendFailed  int       `json:"send_failed"`
	Error       string    `json:"error,omitempty"`
}

type Stats struct {
	Cycles            int64        `json:"cycles"`
	Messages          int64        `json:"messages"`
	UnitsSent         int64        `json:"units_sent"`
	UnitsFailed       int64        `json:"units_failed"`
	Deliveries        int64        `json:"deliveries"`
	DeliveriesLast24h int64        `json:"deliveries_last_24h"`
	LastCycle         *CycleReport `json:"last_cycle,omitempty"`
}
