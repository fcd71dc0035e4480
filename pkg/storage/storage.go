// Package storage contains implementation independent mail store logic.
package storage

import (
	"errors"
	"fmt"
	"io"
	"net/mail"
	"time"

	"github.com/tempmaild/tempmaild/pkg/config"
)

var (
	// ErrNotExist indicates the requested mailbox or message does not exist.
	ErrNotExist = errors.New("does not exist")

	// ErrConflict indicates the requested mailbox name is already taken.
	ErrConflict = errors.New("already exists")
)

// Mailbox is the metadata record for a single mailbox.
type Mailbox struct {
	// Name is the canonical (lowercase) mailbox name, aka the local part.
	Name string
	// Created is the time the mailbox record was first inserted.
	Created time.Time
}

// Store is the interface Stores must implement.  Mutations targeting the same
// mailbox are serialized by the Store; operations on different mailboxes must
// not block each other.
type Store interface {
	// AddMailbox atomically inserts a new mailbox record, failing with
	// ErrConflict if the name is taken.
	AddMailbox(name string, created time.Time) (*Mailbox, error)
	// GetMailbox fetches a mailbox record, or ErrNotExist.
	GetMailbox(name string) (*Mailbox, error)
	// RemoveMailbox deletes a mailbox and all of its messages.
	RemoveMailbox(name string) error
	// AddMessage stores the message; ID will be assigned by the Store.  The
	// mailbox must already exist.
	AddMessage(message Message) (id string, err error)
	// GetMessage fetches a single message, or ErrNotExist.
	GetMessage(mailbox, id string) (Message, error)
	// GetMessages fetches the messages of a mailbox in arrival order.
	GetMessages(mailbox string) ([]Message, error)
	// PurgeMessages deletes the contents of a mailbox, but not the mailbox.
	PurgeMessages(mailbox string) error
	// RemoveMessage deletes a single message.
	RemoveMessage(mailbox, id string) error
	// VisitMailboxes calls f with each mailbox and its messages while f
	// continues to return true.
	VisitMailboxes(f func(mailbox *Mailbox, messages []Message) (cont bool)) error
}

// Message represents a single stored message.
type Message interface {
	Mailbox() string
	ID() string
	From() *mail.Address
	To() []*mail.Address
	Date() time.Time
	Subject() string
	Source() (io.ReadCloser, error)
	Size() int64
}

// Constructors tracks registered storage implementations.
var Constructors = make(map[string]func(config.Storage) (Store, error))

// FromConfig creates an instance of the Store described by the config.
func FromConfig(cfg config.Storage) (Store, error) {
	constructor, ok := Constructors[cfg.Type]
	if !ok {
		return nil, fmt.Errorf("unknown storage type: %q", cfg.Type)
	}
	store, err := constructor(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create %q storage: %w", cfg.Type, err)
	}
	return store, nil
}
