package main

import (
	"context"
	"flag"

	"github.com/google/subcommands"
	"github.com/tempmaild/tempmaild/pkg/rest/client"
)

type deleteCmd struct {
	purge bool
}

func (*deleteCmd) Name() string {
	return "delete"
}

func (*deleteCmd) Synopsis() string {
	return "delete a message or mailbox"
}

func (*deleteCmd) Usage() string {
	return `delete [flags] <mailbox> [id]:
	delete the identified message, or the whole mailbox if no id is given
`
}

func (d *deleteCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&d.purge, "purge", false, "empty the mailbox but keep its name claimed")
}

func (d *deleteCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	mailbox := f.Arg(0)
	id := f.Arg(1)
	if mailbox == "" {
		return usage("mailbox required")
	}

	// Setup REST client
	c, err := client.New(baseURL())
	if err != nil {
		return fatal("Couldn't build client", err)
	}

	switch {
	case id != "":
		err = c.DeleteMessage(ctx, mailbox, id)
	case d.purge:
		err = c.PurgeMailbox(ctx, mailbox)
	default:
		err = c.DeleteMailbox(ctx, mailbox)
	}
	if err != nil {
		return fatal("Delete REST call failed", err)
	}

	return subcommands.ExitSuccess
}
