package main

import (
	"context"
	"flag"
	"fmt"

	"github.com/google/subcommands"
	"github.com/tempmaild/tempmaild/pkg/rest/client"
)

type createCmd struct{}

func (*createCmd) Name() string {
	return "create"
}

func (*createCmd) Synopsis() string {
	return "claim a new mailbox"
}

func (*createCmd) Usage() string {
	return `create [mailbox]:
	claim the named mailbox, or a randomly generated one if no name is given;
	prints the claimed name
`
}

func (c *createCmd) SetFlags(f *flag.FlagSet) {}

func (c *createCmd) Execute(
	ctx context.Context, f *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	name := f.Arg(0)

	// Setup REST client
	rc, err := client.New(baseURL())
	if err != nil {
		return fatal("Couldn't build client", err)
	}

	mb, err := rc.CreateMailbox(ctx, name)
	if err != nil {
		return fatal("Create REST call failed", err)
	}
	fmt.Println(mb.Name)

	return subcommands.ExitSuccess
}
