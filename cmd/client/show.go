package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"

	"github.com/google/subcommands"
	"github.com/tempmaild/tempmaild/pkg/rest/client"
)

type showCmd struct{}

func (*showCmd) Name() string {
	return "show"
}

func (*showCmd) Synopsis() string {
	return "show a message with decoded content"
}

func (*showCmd) Usage() string {
	return `show <mailbox> <id>:
	print the message headers and decoded body as JSON
`
}

func (s *showCmd) SetFlags(f *flag.FlagSet) {}

func (s *showCmd) Execute(
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

	msg, err := c.GetMessage(ctx, mailbox, id)
	if err != nil {
		return fatal("Show REST call failed", err)
	}
	jsonEncoder := json.NewEncoder(os.Stdout)
	jsonEncoder.SetEscapeHTML(false)
	jsonEncoder.SetIndent("", "  ")
	if err := jsonEncoder.Encode(msg); err != nil {
		return fatal("Error", err)
	}

	return subcommands.ExitSuccess
}
