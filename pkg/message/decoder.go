package message

import (
	"fmt"
	"io"
	"strings"

	"github.com/jhillyerd/enmime/v2"
)

// maxPartDepth bounds the MIME part tree walk; parts nested deeper are
// ignored rather than recursed into.
const maxPartDepth = 8

// Envelope is the decoded view of a message body.
type Envelope struct {
	Text        string
	HTML        string
	Attachments []*Part
}

// Part is a decoded attachment or inline part.
type Part struct {
	FileName    string
	ContentType string
	ContentID   string
	Content     []byte
}

// Decoder converts raw message source into an Envelope.  Decoding is best
// effort: a malformed message yields an empty Envelope and an error, never a
// panic, and the raw source is unaffected.
type Decoder struct{}

// NewDecoder creates a Decoder.
func NewDecoder() *Decoder {
	return &Decoder{}
}

// Decode parses the message source in r.  The first text/plain and first
// text/html leaf parts become the Text and HTML bodies; other leaves become
// attachments.  Returns a non-nil Envelope even on error.
func (d *Decoder) Decode(r io.Reader) (*Envelope, error) {
	root, err := enmime.ReadParts(r)
	if err != nil {
		return &Envelope{}, fmt.Errorf("decoding message: %w", err)
	}
	e := &Envelope{}
	d.walk(e, root, 0)
	return e, nil
}

// walk does a depth first traversal of the part tree, depth bounded.
func (d *Decoder) walk(e *Envelope, p *enmime.Part, depth int) {
	for ; p != nil; p = p.NextSibling {
		ctype := strings.ToLower(p.ContentType)
		switch {
		case p.FirstChild != nil:
			if depth < maxPartDepth {
				d.walk(e, p.FirstChild, depth+1)
			}
		case ctype == "text/plain" && e.Text == "" && p.Disposition != "attachment":
			e.Text = string(p.Content)
		case ctype == "text/html" && e.HTML == "" && p.Disposition != "attachment":
			e.HTML = string(p.Content)
		case len(p.Content) > 0 || p.FileName != "":
			e.Attachments = append(e.Attachments, &Part{
				FileName:    p.FileName,
				ContentType: ctype,
				ContentID:   p.ContentID,
				Content:     p.Content,
			})
		}
	}
}
