// Package redis implements a Redis backed mail store.
package redis

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/mail"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/tempmaild/tempmaild/pkg/config"
	"github.com/tempmaild/tempmaild/pkg/storage"
	"github.com/tempmaild/tempmaild/pkg/stringutil"
)

// Key layout:
//
//	mailboxes            zset of mailbox names, scored by creation unix time
//	mailbox:<name>       creation time (RFC 3339), also the existence marker
//	seq:<name>           message ID counter
//	msgs:<name>          zset of message IDs, scored by the numeric ID
//	msg:<name>:<id>      hash of message fields plus raw source
type Store struct {
	client *redis.Client
	ctx    context.Context
	cap    int64
}

var _ storage.Store = &Store{}

// New creates a Store from the "addr", "password" and "db" params.
func New(cfg config.Storage) (storage.Store, error) {
	addr := cfg.Params["addr"]
	if addr == "" {
		addr = "localhost:6379"
	}
	db := 0
	if v := cfg.Params["db"]; v != "" {
		var err error
		if db, err = strconv.Atoi(v); err != nil {
			return nil, fmt.Errorf("storage param db: %w", err)
		}
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.Params["password"],
		DB:       db,
	})
	return &Store{
		client: client,
		ctx:    context.Background(),
		cap:    int64(cfg.MailboxMsgCap),
	}, nil
}

func mailboxKey(name string) string { return "mailbox:" + name }
func seqKey(name string) string     { return "seq:" + name }
func msgsKey(name string) string    { return "msgs:" + name }
func msgKey(name, id string) string { return "msg:" + name + ":" + id }

// AddMailbox atomically inserts a new mailbox record.
func (s *Store) AddMailbox(name string, created time.Time) (*storage.Mailbox, error) {
	ok, err := s.client.SetNX(s.ctx, mailboxKey(name), created.Format(time.RFC3339Nano), 0).Result()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("mailbox %q: %w", name, storage.ErrConflict)
	}
	err = s.client.ZAdd(s.ctx, "mailboxes", &redis.Z{
		Score:  float64(created.Unix()),
		Member: name,
	}).Err()
	if err != nil {
		return nil, err
	}
	return &storage.Mailbox{Name: name, Created: created}, nil
}

// GetMailbox fetches a mailbox record.
func (s *Store) GetMailbox(name string) (*storage.Mailbox, error) {
	val, err := s.client.Get(s.ctx, mailboxKey(name)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("mailbox %q: %w", name, storage.ErrNotExist)
		}
		return nil, err
	}
	created, err := time.Parse(time.RFC3339Nano, val)
	if err != nil {
		return nil, fmt.Errorf("mailbox %q created time: %w", name, err)
	}
	return &storage.Mailbox{Name: name, Created: created}, nil
}

// RemoveMailbox deletes a mailbox and all of its messages.
func (s *Store) RemoveMailbox(name string) error {
	exists, err := s.client.Exists(s.ctx, mailboxKey(name)).Result()
	if err != nil {
		return err
	}
	if exists == 0 {
		return fmt.Errorf("mailbox %q: %w", name, storage.ErrNotExist)
	}
	if err := s.purge(name); err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Del(s.ctx, mailboxKey(name), seqKey(name), msgsKey(name))
	pipe.ZRem(s.ctx, "mailboxes", name)
	_, err = pipe.Exec(s.ctx)
	return err
}

// AddMessage stores the message under a sequence assigned ID.
func (s *Store) AddMessage(message storage.Message) (id string, err error) {
	mailbox := message.Mailbox()
	if _, err := s.GetMailbox(mailbox); err != nil {
		return "", err
	}
	r, err := message.Source()
	if err != nil {
		return "", err
	}
	source, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	seq, err := s.client.Incr(s.ctx, seqKey(mailbox)).Result()
	if err != nil {
		return "", err
	}
	id = strconv.FormatInt(seq, 10)
	toList := bytes.Buffer{}
	for i, a := range stringutil.StringAddressList(message.To()) {
		if i > 0 {
			toList.WriteString("\n")
		}
		toList.WriteString(a)
	}
	pipe := s.client.TxPipeline()
	pipe.HSet(s.ctx, msgKey(mailbox, id), map[string]interface{}{
		"from":    stringutil.StringAddress(message.From()),
		"to":      toList.String(),
		"date":    message.Date().Format(time.RFC3339Nano),
		"subject": message.Subject(),
		"source":  source,
	})
	pipe.ZAdd(s.ctx, msgsKey(mailbox), &redis.Z{Score: float64(seq), Member: id})
	if _, err := pipe.Exec(s.ctx); err != nil {
		return "", err
	}
	if s.cap > 0 {
		if err := s.enforceCap(mailbox); err != nil {
			return "", err
		}
	}
	return id, nil
}

// enforceCap drops the oldest message IDs beyond the per-mailbox cap.
func (s *Store) enforceCap(mailbox string) error {
	count, err := s.client.ZCard(s.ctx, msgsKey(mailbox)).Result()
	if err != nil {
		return err
	}
	if count <= s.cap {
		return nil
	}
	excess, err := s.client.ZRange(s.ctx, msgsKey(mailbox), 0, count-s.cap-1).Result()
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	for _, id := range excess {
		pipe.Del(s.ctx, msgKey(mailbox, id))
		pipe.ZRem(s.ctx, msgsKey(mailbox), id)
	}
	_, err = pipe.Exec(s.ctx)
	return err
}

// GetMessage gets a message.
func (s *Store) GetMessage(mailbox, id string) (storage.Message, error) {
	fields, err := s.client.HGetAll(s.ctx, msgKey(mailbox, id)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("message %v/%v: %w", mailbox, id, storage.ErrNotExist)
	}
	return messageFromHash(mailbox, id, fields)
}

// GetMessages gets the messages of a mailbox in arrival order.
func (s *Store) GetMessages(mailbox string) ([]storage.Message, error) {
	if _, err := s.GetMailbox(mailbox); err != nil {
		return nil, err
	}
	ids, err := s.client.ZRange(s.ctx, msgsKey(mailbox), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	messages := make([]storage.Message, 0, len(ids))
	for _, id := range ids {
		m, err := s.GetMessage(mailbox, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotExist) {
				// Concurrently deleted, skip.
				continue
			}
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// PurgeMessages deletes the contents of a mailbox.
func (s *Store) PurgeMessages(mailbox string) error {
	if _, err := s.GetMailbox(mailbox); err != nil {
		return err
	}
	return s.purge(mailbox)
}

func (s *Store) purge(mailbox string) error {
	ids, err := s.client.ZRange(s.ctx, msgsKey(mailbox), 0, -1).Result()
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	for _, id := range ids {
		pipe.Del(s.ctx, msgKey(mailbox, id))
	}
	pipe.Del(s.ctx, msgsKey(mailbox))
	_, err = pipe.Exec(s.ctx)
	return err
}

// RemoveMessage deletes a single message.
func (s *Store) RemoveMessage(mailbox, id string) error {
	n, err := s.client.Del(s.ctx, msgKey(mailbox, id)).Result()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("message %v/%v: %w", mailbox, id, storage.ErrNotExist)
	}
	return s.client.ZRem(s.ctx, msgsKey(mailbox), id).Err()
}

// VisitMailboxes visits each mailbox in the store.
func (s *Store) VisitMailboxes(f func(*storage.Mailbox, []storage.Message) (cont bool)) error {
	names, err := s.client.ZRange(s.ctx, "mailboxes", 0, -1).Result()
	if err != nil {
		return err
	}
	for _, name := range names {
		mb, err := s.GetMailbox(name)
		if err != nil {
			if errors.Is(err, storage.ErrNotExist) {
				continue
			}
			return err
		}
		ms, err := s.GetMessages(name)
		if err != nil {
			if errors.Is(err, storage.ErrNotExist) {
				continue
			}
			return err
		}
		if !f(mb, ms) {
			break
		}
	}
	return nil
}

// Message is a redis store message, fully materialized at read time.
type Message struct {
	mailbox string
	id      string
	from    *mail.Address
	to      []*mail.Address
	date    time.Time
	subject string
	source  []byte
}

var _ storage.Message = &Message{}

func messageFromHash(mailbox, id string, fields map[string]string) (*Message, error) {
	date, err := time.Parse(time.RFC3339Nano, fields["date"])
	if err != nil {
		return nil, fmt.Errorf("message %v/%v date: %w", mailbox, id, err)
	}
	m := &Message{
		mailbox: mailbox,
		id:      id,
		date:    date,
		subject: fields["subject"],
		source:  []byte(fields["source"]),
	}
	if from := fields["from"]; from != "" {
		// Sender may be malformed, present it unparsed in that case.
		if a, err := mail.ParseAddress(from); err == nil {
			m.from = a
		} else {
			m.from = &mail.Address{Name: from}
		}
	}
	if to := fields["to"]; to != "" {
		for _, line := range bytes.Split([]byte(to), []byte("\n")) {
			if a, err := mail.ParseAddress(string(line)); err == nil {
				m.to = append(m.to, a)
			} else {
				m.to = append(m.to, &mail.Address{Name: string(line)})
			}
		}
	}
	return m, nil
}

// Mailbox returns the mailbox name.
func (m *Message) Mailbox() string { return m.mailbox }

// ID returns the message ID.
func (m *Message) ID() string { return m.id }

// From returns the from address.
func (m *Message) From() *mail.Address { return m.from }

// To returns the to address list.
func (m *Message) To() []*mail.Address { return m.to }

// Date returns the date received.
func (m *Message) Date() time.Time { return m.date }

// Subject returns the subject line.
func (m *Message) Subject() string { return m.subject }

// Source returns a reader for the message source.
func (m *Message) Source() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(m.source)), nil
}

// Size returns the message size in bytes.
func (m *Message) Size() int64 { return int64(len(m.source)) }
