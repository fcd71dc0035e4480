package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	"github.com/tempmaild/tempmaild/pkg/rest/client"
)

type listCmd struct {
	since string
}

func (*listCmd) Name() string {
	return "list"
}

func (*listCmd) Synopsis() string {
	return "list contents of mailbox"
}

func (*listCmd) Usage() string {
	return `list [flags] <mailbox>:
	list message IDs in mailbox
`
}

func (l *listCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&l.since, "since", "", "only list messages with IDs after this cursor")
}

func (l *listCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	mailbox := f.Arg(0)
	if mailbox == "" {
		return usage("mailbox required")
	}

	// Setup REST client
	c, err := client.New(baseURL())
	if err != nil {
		return fatal("Couldn't build client", err)
	}

	// Get list
	var headers []*client.MessageHeader
	if l.since == "" {
		headers, err = c.ListMailbox(ctx, mailbox)
	} else {
		headers, err = c.ListMailboxSince(ctx, mailbox, l.since)
	}
	if err != nil {
		return fatal("List REST call failed", err)
	}
	for _, h := range headers {
		fmt.Println(h.ID)
	}

	return subcommands.ExitSuccess
}
