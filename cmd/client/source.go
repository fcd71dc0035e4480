package main

import (
	"context"
	"flag"
	"io"
	"os"

	"github.com/google/subcommands"
	"github.com/tempmaild/tempmaild/pkg/rest/client"
)

type sourceCmd struct{}

func (*sourceCmd) Name() string {
	return "source"
}

func (*sourceCmd) Synopsis() string {
	return "print the raw source of a message"
}

func (*sourceCmd) Usage() string {
	return `source <mailbox> <id>:
	print the stored source of the message, including headers
`
}

func (s *sourceCmd) SetFlags(f *flag.FlagSet) {}

func (s *sourceCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	mailbox := f.Arg(0)
	id := f.Arg(1)
	if mailbox == "" || id == "" {
		return usage("mailbox and id required")
	}

	// Setup REST client
	c, err := client.New(baseURL())
	if err != nil {
		return fatal("Couldn't build client", err)
	}

	source, err := c.GetMessageSource(ctx, mailbox, id)
	if err != nil {
		return fatal("Source REST call failed", err)
	}
	if _, err := io.Copy(os.Stdout, source); err != nil {
		return fatal("Error", err)
	}

	return subcommands.ExitSuccess
}
