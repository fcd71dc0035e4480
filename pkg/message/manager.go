package message

import (
	"bytes"
	"fmt"
	"io"
	"net/mail"
	"sort"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tempmaild/tempmaild/pkg/msghub"
	"github.com/tempmaild/tempmaild/pkg/policy"
	"github.com/tempmaild/tempmaild/pkg/storage"
	"github.com/tempmaild/tempmaild/pkg/stringutil"
)

// Manager is the interface controllers use to interact with messages.
type Manager interface {
	Deliver(origin *policy.Origin, recipients []*policy.Recipient, source []byte) error
	GetMetadata(mailbox string) ([]*Metadata, error)
	GetMetadataSince(mailbox, since string) ([]*Metadata, error)
	GetMessage(mailbox, id string) (*Message, error)
	SourceReader(mailbox, id string) (io.ReadCloser, error)
	PurgeMessages(mailbox string) error
	RemoveMessage(mailbox, id string) error
}

// StoreManager is a message Manager backed by the storage.Store.
type StoreManager struct {
	Store   storage.Store
	Hub     *msghub.Hub
	decoder *Decoder
}

var _ Manager = &StoreManager{}

// NewStoreManager creates a StoreManager.
func NewStoreManager(store storage.Store, hub *msghub.Hub) *StoreManager {
	return &StoreManager{
		Store:   store,
		Hub:     hub,
		decoder: NewDecoder(),
	}
}

// Deliver stores one copy of the message per distinct recipient mailbox, then
// emits a hub event for each stored copy.  Recipient mailboxes must already
// exist; a failed store aborts the whole delivery.
func (s *StoreManager) Deliver(
	origin *policy.Origin,
	recipients []*policy.Recipient,
	source []byte,
) error {
	from := originAddress(origin)
	to := make([]*mail.Address, len(recipients))
	for i, r := range recipients {
		to[i] = &r.Address
	}
	date := time.Now()
	subject := parseSubject(source)
	seen := make(map[string]struct{}, len(recipients))
	for _, recip := range recipients {
		mailbox := recip.Mailbox
		if _, ok := seen[mailbox]; ok {
			// Two recipient addresses mapped to one mailbox.
			continue
		}
		seen[mailbox] = struct{}{}
		delivery := &Delivery{
			Meta: Metadata{
				Mailbox: mailbox,
				From:    from,
				To:      to,
				Date:    date,
				Subject: subject,
			},
			Reader: bytes.NewReader(source),
		}
		id, err := s.Store.AddMessage(delivery)
		if err != nil {
			return fmt.Errorf("delivering to %q: %w", mailbox, err)
		}
		log.Debug().Str("module", "message").Str("mailbox", mailbox).Str("id", id).
			Msg("Message stored")
		if s.Hub != nil {
			s.Hub.Dispatch(msghub.Message{
				Mailbox: mailbox,
				ID:      id,
				From:    stringutil.StringAddress(from),
				To:      stringutil.StringAddressList(to),
				Subject: subject,
				Date:    date,
				Size:    int64(len(source)),
			})
		}
	}
	return nil
}

// GetMetadata returns the metadata of all messages in the mailbox, in
// arrival order.
func (s *StoreManager) GetMetadata(mailbox string) ([]*Metadata, error) {
	messages, err := s.Store.GetMessages(mailbox)
	if err != nil {
		return nil, err
	}
	metas := make([]*Metadata, len(messages))
	for i, sm := range messages {
		metas[i] = makeMetadata(sm)
	}
	return metas, nil
}

// GetMetadataSince returns the metadata of messages whose ID is ordered
// strictly after since.  An empty since returns everything.
func (s *StoreManager) GetMetadataSince(mailbox, since string) ([]*Metadata, error) {
	metas, err := s.GetMetadata(mailbox)
	if err != nil || since == "" {
		return metas, err
	}
	cursor, err := strconv.ParseInt(since, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid cursor %q: %w", since, err)
	}
	idx := sort.Search(len(metas), func(i int) bool {
		id, err := strconv.ParseInt(metas[i].ID, 10, 64)
		return err == nil && id > cursor
	})
	return metas[idx:], nil
}

// GetMessage returns the message with decoded content.  Decode failures are
// logged, not fatal; the metadata and raw source remain available.
func (s *StoreManager) GetMessage(mailbox, id string) (*Message, error) {
	sm, err := s.Store.GetMessage(mailbox, id)
	if err != nil {
		return nil, err
	}
	r, err := sm.Source()
	if err != nil {
		return nil, err
	}
	defer r.Close()
	env, err := s.decoder.Decode(r)
	if err != nil {
		log.Warn().Str("module", "message").Str("mailbox", mailbox).Str("id", id).
			Err(err).Msg("Failed to decode message content")
	}
	return &Message{Metadata: *makeMetadata(sm), env: env}, nil
}

// SourceReader allows the stored message source to be read.
func (s *StoreManager) SourceReader(mailbox, id string) (io.ReadCloser, error) {
	sm, err := s.Store.GetMessage(mailbox, id)
	if err != nil {
		return nil, err
	}
	return sm.Source()
}

// PurgeMessages deletes the contents of a mailbox.
func (s *StoreManager) PurgeMessages(mailbox string) error {
	return s.Store.PurgeMessages(mailbox)
}

// RemoveMessage deletes a single message.
func (s *StoreManager) RemoveMessage(mailbox, id string) error {
	return s.Store.RemoveMessage(mailbox, id)
}

func makeMetadata(m storage.Message) *Metadata {
	return &Metadata{
		Mailbox: m.Mailbox(),
		ID:      m.ID(),
		From:    m.From(),
		To:      m.To(),
		Date:    m.Date(),
		Subject: m.Subject(),
		Size:    m.Size(),
	}
}

// originAddress converts the envelope sender, tolerating the null sender
// used by delivery status notifications.
func originAddress(origin *policy.Origin) *mail.Address {
	if origin == nil {
		return &mail.Address{}
	}
	return &origin.Address
}

// parseSubject extracts the Subject header from raw message source without
// requiring a full MIME decode.
func parseSubject(source []byte) string {
	m, err := mail.ReadMessage(bytes.NewReader(source))
	if err != nil {
		return ""
	}
	return m.Header.Get("Subject")
}
