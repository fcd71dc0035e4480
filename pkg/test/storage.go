// Package test contains shared test doubles and suites.
package test

import (
	"errors"
	"fmt"
	"time"

	"github.com/tempmaild/tempmaild/pkg/storage"
)

// StoreStub stubs storage.Store for testing.  Mailboxes named with an "err"
// suffix inject internal errors into the matching operation.
type StoreStub struct {
	storage.Store
	boxes     map[string]*storage.Mailbox
	mailboxes map[string][]storage.Message
	deleted   map[storage.Message]struct{}
}

// NewStore creates a new StoreStub.
func NewStore() *StoreStub {
	return &StoreStub{
		boxes:     make(map[string]*storage.Mailbox),
		mailboxes: make(map[string][]storage.Message),
		deleted:   make(map[storage.Message]struct{}),
	}
}

// AddMailbox records a mailbox.
func (s *StoreStub) AddMailbox(name string, created time.Time) (*storage.Mailbox, error) {
	if name == "createerr" {
		return nil, errors.New("internal error")
	}
	if _, ok := s.boxes[name]; ok {
		return nil, fmt.Errorf("mailbox %q: %w", name, storage.ErrConflict)
	}
	mb := &storage.Mailbox{Name: name, Created: created}
	s.boxes[name] = mb
	return mb, nil
}

// GetMailbox fetches a previously added mailbox.
func (s *StoreStub) GetMailbox(name string) (*storage.Mailbox, error) {
	if name == "lookuperr" {
		return nil, errors.New("internal error")
	}
	mb, ok := s.boxes[name]
	if !ok {
		return nil, fmt.Errorf("mailbox %q: %w", name, storage.ErrNotExist)
	}
	return mb, nil
}

// RemoveMailbox deletes a mailbox and its messages.
func (s *StoreStub) RemoveMailbox(name string) error {
	if _, ok := s.boxes[name]; !ok {
		return storage.ErrNotExist
	}
	delete(s.boxes, name)
	delete(s.mailboxes, name)
	return nil
}

// AddMessage adds a message to the specified mailbox.
func (s *StoreStub) AddMessage(m storage.Message) (id string, err error) {
	mb := m.Mailbox()
	if mb == "storeerr" {
		return "", errors.New("internal error")
	}
	if _, ok := s.boxes[mb]; !ok {
		return "", fmt.Errorf("mailbox %q: %w", mb, storage.ErrNotExist)
	}
	msgs := s.mailboxes[mb]
	id = fmt.Sprintf("%v", len(msgs)+1)
	s.mailboxes[mb] = append(msgs, &messageStub{Message: m, id: id})
	return id, nil
}

// GetMessage gets a message by ID from the specified mailbox.
func (s *StoreStub) GetMessage(mailbox, id string) (storage.Message, error) {
	if mailbox == "messageerr" {
		return nil, errors.New("internal error")
	}
	for _, m := range s.mailboxes[mailbox] {
		if m.ID() == id {
			return m, nil
		}
	}
	return nil, storage.ErrNotExist
}

// GetMessages gets all the messages for the specified mailbox.
func (s *StoreStub) GetMessages(mailbox string) ([]storage.Message, error) {
	if mailbox == "messageserr" {
		return nil, errors.New("internal error")
	}
	if _, ok := s.boxes[mailbox]; !ok {
		return nil, fmt.Errorf("mailbox %q: %w", mailbox, storage.ErrNotExist)
	}
	return s.mailboxes[mailbox], nil
}

// PurgeMessages deletes the messages in a mailbox.
func (s *StoreStub) PurgeMessages(mailbox string) error {
	if _, ok := s.boxes[mailbox]; !ok {
		return storage.ErrNotExist
	}
	s.mailboxes[mailbox] = nil
	return nil
}

// RemoveMessage deletes a message by ID from the specified mailbox.
func (s *StoreStub) RemoveMessage(mailbox, id string) error {
	mb, ok := s.mailboxes[mailbox]
	if ok {
		var msg storage.Message
		for i, m := range mb {
			if m.ID() == id {
				msg = m
				s.mailboxes[mailbox] = append(mb[:i], mb[i+1:]...)
				break
			}
		}
		if msg != nil {
			s.deleted[msg] = struct{}{}
			return nil
		}
	}
	return storage.ErrNotExist
}

// VisitMailboxes accepts a function that will be called with each mailbox and its messages while
// it continues to return true.
func (s *StoreStub) VisitMailboxes(f func(*storage.Mailbox, []storage.Message) (cont bool)) error {
	for name, mb := range s.boxes {
		if !f(mb, s.mailboxes[name]) {
			return nil
		}
	}
	return nil
}

// MessageDeleted returns true if the specified message was deleted.
func (s *StoreStub) MessageDeleted(m storage.Message) bool {
	for d := range s.deleted {
		if ms, ok := d.(*messageStub); ok && ms.Message == m {
			return true
		}
		if d == m {
			return true
		}
	}
	return false
}

// messageStub wraps a delivery so the stub can assign it an ID.
type messageStub struct {
	storage.Message
	id string
}

func (m *messageStub) ID() string { return m.id }
