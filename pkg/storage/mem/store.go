// Package mem implements an in-memory mail store.
package mem

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/tempmaild/tempmaild/pkg/config"
	"github.com/tempmaild/tempmaild/pkg/storage"
)

// Store implements an in-memory message store.  The store level mutex only
// guards the mailbox map; each mailbox carries its own RWMutex so that
// operations on different mailboxes proceed independently.
type Store struct {
	sync.Mutex
	boxes map[string]*mbox
	cap   int // Per-mailbox message cap.
}

type mbox struct {
	sync.RWMutex
	mailbox  storage.Mailbox
	first    int // Oldest message index, for cap enforcement.
	last     int // Most recently assigned message index.
	messages map[string]*Message
}

var _ storage.Store = &Store{}

// New returns an empty memory store.
func New(cfg config.Storage) (storage.Store, error) {
	return &Store{
		boxes: make(map[string]*mbox),
		cap:   cfg.MailboxMsgCap,
	}, nil
}

// AddMailbox atomically inserts a new mailbox record.
func (s *Store) AddMailbox(name string, created time.Time) (*storage.Mailbox, error) {
	s.Lock()
	defer s.Unlock()
	if _, ok := s.boxes[name]; ok {
		return nil, fmt.Errorf("mailbox %q: %w", name, storage.ErrConflict)
	}
	mb := &mbox{
		mailbox:  storage.Mailbox{Name: name, Created: created},
		first:    1, // IDs start at 1.
		messages: make(map[string]*Message),
	}
	s.boxes[name] = mb
	r := mb.mailbox
	return &r, nil
}

// GetMailbox fetches a mailbox record.
func (s *Store) GetMailbox(name string) (*storage.Mailbox, error) {
	s.Lock()
	defer s.Unlock()
	mb, ok := s.boxes[name]
	if !ok {
		return nil, fmt.Errorf("mailbox %q: %w", name, storage.ErrNotExist)
	}
	r := mb.mailbox
	return &r, nil
}

// RemoveMailbox deletes a mailbox and, by ownership, all of its messages.
func (s *Store) RemoveMailbox(name string) error {
	s.Lock()
	defer s.Unlock()
	if _, ok := s.boxes[name]; !ok {
		return fmt.Errorf("mailbox %q: %w", name, storage.ErrNotExist)
	}
	delete(s.boxes, name)
	return nil
}

// AddMessage stores the message; ID and Size are determined by the store.
// The message is either fully visible to subsequent reads, or not at all.
func (s *Store) AddMessage(message storage.Message) (id string, err error) {
	r, err := message.Source()
	if err != nil {
		return "", err
	}
	source, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	m := &Message{
		mailbox: message.Mailbox(),
		from:    message.From(),
		to:      message.To(),
		date:    message.Date(),
		subject: message.Subject(),
	}
	err = s.withMailbox(message.Mailbox(), true, func(mb *mbox) {
		mb.last++
		m.index = mb.last
		id = strconv.Itoa(mb.last)
		m.id = id
		m.source = source
		mb.messages[id] = m

		if s.cap > 0 {
			// Enforce cap by dropping oldest.
			for len(mb.messages) > s.cap {
				delete(mb.messages, strconv.Itoa(mb.first))
				mb.first++
			}
		}
	})
	return id, err
}

// GetMessage gets a message.
func (s *Store) GetMessage(mailbox, id string) (m storage.Message, err error) {
	err = s.withMailbox(mailbox, false, func(mb *mbox) {
		if got, ok := mb.messages[id]; ok {
			m = got
		}
	})
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("message %v/%v: %w", mailbox, id, storage.ErrNotExist)
	}
	return m, nil
}

// GetMessages gets the messages of a mailbox in arrival order.
func (s *Store) GetMessages(mailbox string) (ms []storage.Message, err error) {
	err = s.withMailbox(mailbox, false, func(mb *mbox) {
		ms = make([]storage.Message, 0, len(mb.messages))
		for _, v := range mb.messages {
			ms = append(ms, v)
		}
		sort.Slice(ms, func(i, j int) bool {
			return ms[i].(*Message).index < ms[j].(*Message).index
		})
	})
	return ms, err
}

// PurgeMessages deletes the contents of a mailbox.
func (s *Store) PurgeMessages(mailbox string) error {
	return s.withMailbox(mailbox, true, func(mb *mbox) {
		mb.messages = make(map[string]*Message)
		mb.first = mb.last + 1
	})
}

// RemoveMessage deletes a single message.
func (s *Store) RemoveMessage(mailbox, id string) error {
	found := false
	err := s.withMailbox(mailbox, true, func(mb *mbox) {
		if _, ok := mb.messages[id]; ok {
			found = true
			delete(mb.messages, id)
		}
	})
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("message %v/%v: %w", mailbox, id, storage.ErrNotExist)
	}
	return nil
}

// VisitMailboxes visits each mailbox in the store.
func (s *Store) VisitMailboxes(f func(*storage.Mailbox, []storage.Message) (cont bool)) error {
	// Lock store, snapshot mailbox records.
	s.Lock()
	boxes := make([]storage.Mailbox, 0, len(s.boxes))
	for _, mb := range s.boxes {
		boxes = append(boxes, mb.mailbox)
	}
	s.Unlock()
	for i := range boxes {
		ms, err := s.GetMessages(boxes[i].Name)
		if err != nil {
			// Mailbox may have been removed since the snapshot.
			continue
		}
		if !f(&boxes[i], ms) {
			break
		}
	}
	return nil
}

// withMailbox locks an existing mailbox, then calls f.
func (s *Store) withMailbox(mailbox string, writeLock bool, f func(mb *mbox)) error {
	s.Lock()
	mb, ok := s.boxes[mailbox]
	s.Unlock()
	if !ok {
		return fmt.Errorf("mailbox %q: %w", mailbox, storage.ErrNotExist)
	}
	if writeLock {
		mb.Lock()
		defer mb.Unlock()
	} else {
		mb.RLock()
		defer mb.RUnlock()
	}
	f(mb)
	return nil
}
