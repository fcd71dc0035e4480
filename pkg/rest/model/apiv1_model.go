// Package model defines the JSON documents returned by the REST API.
package model

import "time"

// JSONMailboxV1 describes a mailbox record.
type JSONMailboxV1 struct {
	Name    string    `json:"name"`
	Created time.Time `json:"created"`
}

// JSONMessageHeaderV1 contains the basic header data for a message.
type JSONMessageHeaderV1 struct {
	Mailbox     string    `json:"mailbox"`
	ID          string    `json:"id"`
	From        string    `json:"from"`
	To          []string  `json:"to"`
	Subject     string    `json:"subject"`
	Date        time.Time `json:"date"`
	PosixMillis int64     `json:"posix-millis"`
	Size        int64     `json:"size"`
}

// JSONMessageV1 contains the same data as the header plus a JSONMessageBody.
type JSONMessageV1 struct {
	Mailbox     string                     `json:"mailbox"`
	ID          string                     `json:"id"`
	From        string                     `json:"from"`
	To          []string                   `json:"to"`
	Subject     string                     `json:"subject"`
	Date        time.Time                  `json:"date"`
	PosixMillis int64                      `json:"posix-millis"`
	Size        int64                      `json:"size"`
	Body        *JSONMessageBodyV1         `json:"body"`
	Attachments []*JSONMessageAttachmentV1 `json:"attachments"`
}

// JSONMessageAttachmentV1 describes one decoded attachment.
type JSONMessageAttachmentV1 struct {
	FileName    string `json:"filename"`
	ContentType string `json:"content-type"`
	MD5         string `json:"md5"`
}

// JSONMessageBodyV1 contains the decoded message body.  HTML has been
// sanitized for browser display; consult the source endpoint for the
// original.
type JSONMessageBodyV1 struct {
	Text string `json:"text"`
	HTML string `json:"html"`
}
