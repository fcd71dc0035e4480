package rest

import (
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog/log"
	"github.com/tempmaild/tempmaild/pkg/mailbox"
	"github.com/tempmaild/tempmaild/pkg/message"
	"github.com/tempmaild/tempmaild/pkg/rest/model"
	"github.com/tempmaild/tempmaild/pkg/sanitize"
	"github.com/tempmaild/tempmaild/pkg/server/web"
	"github.com/tempmaild/tempmaild/pkg/storage"
	"github.com/tempmaild/tempmaild/pkg/stringutil"
)

// mailboxCreateRequest is the accepted POST body for MailboxCreateV1.  An
// empty or absent name requests a randomly generated one.
type mailboxCreateRequest struct {
	Name string `json:"name"`
}

// MailboxCreateV1 claims a new mailbox, either under the requested name or a
// random one.
func MailboxCreateV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) error {
	var body mailboxCreateRequest
	if req.Body != nil && req.ContentLength != 0 {
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, "Malformed JSON request body", http.StatusBadRequest)
			return nil
		}
	}
	var mb *storage.Mailbox
	var err error
	if body.Name == "" {
		mb, err = ctx.Registry.CreateRandom()
	} else {
		mb, err = ctx.Registry.Create(body.Name)
	}
	switch {
	case err == nil:
		return web.RenderJSONStatus(w, http.StatusCreated,
			&model.JSONMailboxV1{Name: mb.Name, Created: mb.Created})
	case errors.Is(err, storage.ErrConflict):
		http.Error(w, "Mailbox name already taken", http.StatusConflict)
		return nil
	case errors.Is(err, mailbox.ErrExhausted):
		// Name generation collided repeatedly, the namespace is congested.
		http.Error(w, "Unable to allocate a mailbox, try again later",
			http.StatusServiceUnavailable)
		return nil
	case body.Name != "":
		// Remaining create errors are invalid names.
		http.Error(w, fmt.Sprintf("Invalid mailbox name: %v", err), http.StatusBadRequest)
		return nil
	}
	return err
}

// MailboxListV1 renders the message metadata of a mailbox in arrival order.
// The optional since query parameter returns only messages with IDs ordered
// after it.
func MailboxListV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) error {
	name := ctx.Vars["name"]
	if _, err := ctx.Registry.Lookup(name); err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			http.NotFound(w, req)
			return nil
		}
		return fmt.Errorf("looking up mailbox %q: %w", name, err)
	}
	since := req.URL.Query().Get("since")
	messages, err := ctx.Manager.GetMetadataSince(name, since)
	if err != nil {
		if since != "" && !errors.Is(err, storage.ErrNotExist) {
			http.Error(w, fmt.Sprintf("Invalid since parameter: %v", err),
				http.StatusBadRequest)
			return nil
		}
		return fmt.Errorf("failed to get messages for %v: %w", name, err)
	}
	jmessages := make([]*model.JSONMessageHeaderV1, len(messages))
	for i, msg := range messages {
		jmessages[i] = metadataToHeader(msg)
	}
	return web.RenderJSON(w, jmessages)
}

// MailboxDeleteV1 removes a mailbox and all of its messages.
func MailboxDeleteV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) error {
	name := ctx.Vars["name"]
	err := ctx.Registry.Remove(name)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			http.NotFound(w, req)
			return nil
		}
		return fmt.Errorf("removing mailbox %q: %w", name, err)
	}
	return web.RenderJSON(w, "OK")
}

// MailboxPurgeV1 deletes all messages from a mailbox, keeping the mailbox.
func MailboxPurgeV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) error {
	name := ctx.Vars["name"]
	err := ctx.Manager.PurgeMessages(name)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			http.NotFound(w, req)
			return nil
		}
		return fmt.Errorf("mailbox %q purge failed: %w", name, err)
	}
	return web.RenderJSON(w, "OK")
}

// MessageShowV1 renders a particular message, with decoded and sanitized
// body content.
func MessageShowV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) error {
	name := ctx.Vars["name"]
	id := ctx.Vars["id"]
	msg, err := ctx.Manager.GetMessage(name, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			http.NotFound(w, req)
			return nil
		}
		return fmt.Errorf("GetMessage(%q) failed: %w", id, err)
	}

	htmlBody := msg.HTML()
	if htmlBody != "" {
		clean, err := sanitize.HTML(htmlBody)
		if err != nil {
			// Serve no HTML rather than unsafe HTML.
			log.Warn().Str("module", "rest").Str("mailbox", name).Str("id", id).
				Err(err).Msg("HTML sanitizer failed")
			clean = ""
		}
		htmlBody = clean
	}

	attachments := make([]*model.JSONMessageAttachmentV1, len(msg.Attachments()))
	for i, att := range msg.Attachments() {
		checksum := md5.Sum(att.Content)
		attachments[i] = &model.JSONMessageAttachmentV1{
			FileName:    att.FileName,
			ContentType: att.ContentType,
			MD5:         hex.EncodeToString(checksum[:]),
		}
	}

	return web.RenderJSON(w,
		&model.JSONMessageV1{
			Mailbox:     msg.Mailbox,
			ID:          msg.ID,
			From:        stringutil.StringAddress(msg.From),
			To:          stringutil.StringAddressList(msg.To),
			Subject:     msg.Subject,
			Date:        msg.Date,
			PosixMillis: msg.Date.UnixMilli(),
			Size:        msg.Size,
			Body: &model.JSONMessageBodyV1{
				Text: msg.Text(),
				HTML: htmlBody,
			},
			Attachments: attachments,
		})
}

// MessageSourceV1 displays the raw source of a message, including headers.
// Renders text/plain.
func MessageSourceV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) error {
	name := ctx.Vars["name"]
	id := ctx.Vars["id"]
	r, err := ctx.Manager.SourceReader(name, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			http.NotFound(w, req)
			return nil
		}
		return fmt.Errorf("SourceReader(%q) failed: %w", id, err)
	}
	defer r.Close()
	// Output message source.
	w.Header().Set("Content-Type", "text/plain")
	_, err = io.Copy(w, r)
	return err
}

// MessageDeleteV1 removes a particular message from a mailbox.
func MessageDeleteV1(w http.ResponseWriter, req *http.Request, ctx *web.Context) error {
	name := ctx.Vars["name"]
	id := ctx.Vars["id"]
	err := ctx.Manager.RemoveMessage(name, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			http.NotFound(w, req)
			return nil
		}
		return fmt.Errorf("RemoveMessage(%q) failed: %w", id, err)
	}
	return web.RenderJSON(w, "OK")
}

// metadataToHeader converts manager metadata to the V1 wire representation.
func metadataToHeader(m *message.Metadata) *model.JSONMessageHeaderV1 {
	return &model.JSONMessageHeaderV1{
		Mailbox:     m.Mailbox,
		ID:          m.ID,
		From:        stringutil.StringAddress(m.From),
		To:          stringutil.StringAddressList(m.To),
		Subject:     m.Subject,
		Date:        m.Date,
		PosixMillis: m.Date.UnixMilli(),
		Size:        m.Size,
	}
}
