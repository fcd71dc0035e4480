// Package message contains message handling logic: decoding stored mail and
// delivering new mail into storage.
package message

import (
	"io"
	"net/mail"
	"time"

	"github.com/tempmaild/tempmaild/pkg/storage"
)

// Metadata holds the mail envelope summary for a Message.
type Metadata struct {
	Mailbox string
	ID      string
	From    *mail.Address
	To      []*mail.Address
	Date    time.Time
	Subject string
	Size    int64
}

// Message holds the metadata and decoded content of a stored message.  Text
// and HTML are best-effort derivations of the raw source; Source remains
// authoritative.
type Message struct {
	Metadata
	env *Envelope
}

// Text returns the decoded plain text body, or empty string.
func (m *Message) Text() string {
	if m.env == nil {
		return ""
	}
	return m.env.Text
}

// HTML returns the decoded HTML body, or empty string.
func (m *Message) HTML() string {
	if m.env == nil {
		return ""
	}
	return m.env.HTML
}

// Attachments returns decoded attachment parts.
func (m *Message) Attachments() []*Part {
	if m.env == nil {
		return nil
	}
	return m.env.Attachments
}

// Delivery is an incoming message. It implements storage.Message so the Store
// can persist it, with the final ID and Size assigned by the Store itself.
type Delivery struct {
	Meta   Metadata
	Reader io.Reader
}

var _ storage.Message = &Delivery{}

// Mailbox getter.
func (d *Delivery) Mailbox() string {
	return d.Meta.Mailbox
}

// ID getter; always empty, the Store assigns IDs.
func (d *Delivery) ID() string {
	return d.Meta.ID
}

// From getter.
func (d *Delivery) From() *mail.Address {
	return d.Meta.From
}

// To getter.
func (d *Delivery) To() []*mail.Address {
	return d.Meta.To
}

// Date getter.
func (d *Delivery) Date() time.Time {
	return d.Meta.Date
}

// Subject getter.
func (d *Delivery) Subject() string {
	return d.Meta.Subject
}

// Source getter.
func (d *Delivery) Source() (io.ReadCloser, error) {
	return io.NopCloser(d.Reader), nil
}

// Size getter; always zero, the Store computes sizes.
func (d *Delivery) Size() int64 {
	return d.Meta.Size
}
