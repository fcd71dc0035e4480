// Package rest implements the REST API.
package rest

import (
	"github.com/gorilla/mux"
	"github.com/tempmaild/tempmaild/pkg/server/web"
)

// SetupRoutes populates the routes for the REST interface.
func SetupRoutes(r *mux.Router) {
	// API v1
	r.Path("/v1/mailbox").Handler(
		web.Handler(MailboxCreateV1)).Name("MailboxCreateV1").Methods("POST")
	r.Path("/v1/mailbox/{name}").Handler(
		web.Handler(MailboxListV1)).Name("MailboxListV1").Methods("GET")
	r.Path("/v1/mailbox/{name}").Handler(
		web.Handler(MailboxDeleteV1)).Name("MailboxDeleteV1").Methods("DELETE")
	r.Path("/v1/mailbox/{name}/messages").Handler(
		web.Handler(MailboxPurgeV1)).Name("MailboxPurgeV1").Methods("DELETE")
	r.Path("/v1/mailbox/{name}/{id}").Handler(
		web.Handler(MessageShowV1)).Name("MessageShowV1").Methods("GET")
	r.Path("/v1/mailbox/{name}/{id}").Handler(
		web.Handler(MessageDeleteV1)).Name("MessageDeleteV1").Methods("DELETE")
	r.Path("/v1/mailbox/{name}/{id}/source").Handler(
		web.Handler(MessageSourceV1)).Name("MessageSourceV1").Methods("GET")
	r.Path("/v1/monitor/messages").Handler(
		web.Handler(MonitorAllMessagesV1)).Name("MonitorAllMessagesV1").Methods("GET")
	r.Path("/v1/monitor/messages/{name}").Handler(
		web.Handler(MonitorMailboxMessagesV1)).Name("MonitorMailboxMessagesV1").Methods("GET")
}
