// Package client provides a REST client for the tempmaild API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"

	"github.com/tempmaild/tempmaild/pkg/rest/model"
)

// Client accesses the tempmaild REST API v1
type Client struct {
	restClient
}

// New creates a new v1 REST API client given the base URL of a tempmaild
// server, ex: "http://localhost:8025"
func New(baseURL string, opts ...func(*ClientOptions)) (*Client, error) {
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}
	options := getDefaultClientOptions()
	for _, opt := range opts {
		opt(options)
	}
	c := &Client{
		restClient{
			client: &http.Client{
				Timeout:   options.timeout,
				Transport: options.transport,
			},
			baseURL: parsedURL,
		},
	}
	return c, nil
}

// CreateMailbox claims the named mailbox.  An empty name requests a randomly
// generated one; the returned record carries the name that was claimed.
func (c *Client) CreateMailbox(ctx context.Context, name string) (*model.JSONMailboxV1, error) {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	var mb *model.JSONMailboxV1
	if err := c.doJSON(ctx, "POST", "/api/v1/mailbox", body, &mb); err != nil {
		return nil, err
	}
	return mb, nil
}

// ListMailbox returns a list of messages for the requested mailbox
func (c *Client) ListMailbox(ctx context.Context, name string) (headers []*MessageHeader, err error) {
	uri := "/api/v1/mailbox/" + url.PathEscape(name)
	err = c.doJSON(ctx, "GET", uri, nil, &headers)
	if err != nil {
		return nil, err
	}
	for _, h := range headers {
		h.client = c
	}
	return
}

// ListMailboxSince returns the messages whose ID is ordered after the since
// cursor, typically the ID of the newest message seen by a previous call.
func (c *Client) ListMailboxSince(ctx context.Context, name, since string) (headers []*MessageHeader, err error) {
	uri := "/api/v1/mailbox/" + url.PathEscape(name) + "?since=" + url.QueryEscape(since)
	err = c.doJSON(ctx, "GET", uri, nil, &headers)
	if err != nil {
		return nil, err
	}
	for _, h := range headers {
		h.client = c
	}
	return
}

// GetMessage returns the message details given a mailbox name and message ID.
func (c *Client) GetMessage(ctx context.Context, name, id string) (message *Message, err error) {
	uri := "/api/v1/mailbox/" + url.PathEscape(name) + "/" + id
	err = c.doJSON(ctx, "GET", uri, nil, &message)
	if err != nil {
		return nil, err
	}
	message.client = c
	return
}

// GetMessageSource returns the message source given a mailbox name and message ID.
func (c *Client) GetMessageSource(ctx context.Context, name, id string) (*bytes.Buffer, error) {
	uri := "/api/v1/mailbox/" + url.PathEscape(name) + "/" + id + "/source"
	resp, err := c.do(ctx, "GET", uri, nil)
	if err != nil {
		return nil, err
	}

	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return nil,
			fmt.Errorf("unexpected HTTP response status %v: %s", resp.StatusCode, resp.Status)
	}
	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	return buf, err
}

// DeleteMessage deletes a single message given the mailbox name and message ID.
func (c *Client) DeleteMessage(ctx context.Context, name, id string) error {
	uri := "/api/v1/mailbox/" + url.PathEscape(name) + "/" + id
	return c.doDelete(ctx, uri)
}

// PurgeMailbox deletes all messages in the given mailbox, keeping the mailbox.
func (c *Client) PurgeMailbox(ctx context.Context, name string) error {
	uri := "/api/v1/mailbox/" + url.PathEscape(name) + "/messages"
	return c.doDelete(ctx, uri)
}

// DeleteMailbox deletes the mailbox record and all of its messages.
func (c *Client) DeleteMailbox(ctx context.Context, name string) error {
	uri := "/api/v1/mailbox/" + url.PathEscape(name)
	return c.doDelete(ctx, uri)
}

func (c *Client) doDelete(ctx context.Context, uri string) error {
	resp, err := c.do(ctx, "DELETE", uri, nil)
	if err != nil {
		return err
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected HTTP response status %v: %s", resp.StatusCode, resp.Status)
	}
	return nil
}

// MessageHeader represents a stored message sans content
type MessageHeader struct {
	*model.JSONMessageHeaderV1
	client *Client
}

// GetMessage returns this message with content
func (h *MessageHeader) GetMessage(ctx context.Context) (message *Message, err error) {
	return h.client.GetMessage(ctx, h.Mailbox, h.ID)
}

// GetSource returns the source for this message
func (h *MessageHeader) GetSource(ctx context.Context) (*bytes.Buffer, error) {
	return h.client.GetMessageSource(ctx, h.Mailbox, h.ID)
}

// Delete deletes this message from the mailbox
func (h *MessageHeader) Delete(ctx context.Context) error {
	return h.client.DeleteMessage(ctx, h.Mailbox, h.ID)
}

// Message represents a stored message including content
type Message struct {
	*model.JSONMessageV1
	client *Client
}

// GetSource returns the source for this message
func (m *Message) GetSource(ctx context.Context) (*bytes.Buffer, error) {
	return m.client.GetMessageSource(ctx, m.Mailbox, m.ID)
}

// Delete deletes this message from the mailbox
func (m *Message) Delete(ctx context.Context) error {
	return m.client.DeleteMessage(ctx, m.Mailbox, m.ID)
}
