// Package config parses the tempmaild configuration from the environment.
package config

import (
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/kelseyhightower/envconfig"
)

const (
	prefix      = "tempmail"
	tableFormat = `tempmaild is configured via the environment. The following environment
variables can be used:

KEY	DEFAULT	REQUIRED	DESCRIPTION
{{range .}}{{usage_key .}}	{{usage_default .}}	{{usage_required .}}	{{usage_description .}}
{{end}}`
)

var (
	// Version of this build, set by main
	Version = ""

	// BuildDate for this build, set by main
	BuildDate = ""
)

// Root wraps all other configurations.
type Root struct {
	LogLevel string `required:"true" default:"info" desc:"debug, info, warn, or error"`
	SMTP     SMTP
	Web      Web
	Storage  Storage
	Mailbox  Mailbox
}

// SMTP contains the SMTP server configuration.
type SMTP struct {
	Addr            string        `required:"true" default:"0.0.0.0:2525" desc:"SMTP server IP4 host:port"`
	Domain          string        `required:"true" default:"tempmail.local" desc:"Domain mail is accepted for"`
	MaxRecipients   int           `required:"true" default:"20" desc:"Maximum RCPT TO per message"`
	MaxMessageBytes int           `required:"true" default:"10485760" desc:"Maximum message size"`
	Timeout         time.Duration `required:"true" default:"300s" desc:"Idle network timeout"`
	AutoCreate      bool          `required:"true" default:"true" desc:"Create unknown mailboxes on RCPT TO?"`
	Debug           bool          `ignored:"true"` // Print network traffic to stdout.
}

// Web contains the HTTP server configuration.
type Web struct {
	Addr           string `required:"true" default:"0.0.0.0:8025" desc:"Web server IP4 host:port"`
	MonitorHistory int    `required:"true" default:"30" desc:"Monitor remembered messages"`
}

// Storage contains the mail store configuration.
type Storage struct {
	Type          string            `required:"true" default:"memory" desc:"Storage impl: memory or redis"`
	Params        map[string]string `desc:"Storage impl parameters, see docs"`
	MessageTTL    time.Duration     `required:"true" default:"168h" desc:"Duration to retain messages"`
	MailboxTTL    time.Duration     `required:"true" default:"720h" desc:"Duration to retain mailboxes"`
	SweepInterval time.Duration     `required:"true" default:"5m" desc:"Time between retention sweeps"`
	SweepSleep    time.Duration     `required:"true" default:"20ms" desc:"Duration to sleep between mailboxes during sweep"`
	MailboxMsgCap int               `required:"true" default:"500" desc:"Maximum messages per mailbox"`
}

// Mailbox contains the mailbox naming configuration.
type Mailbox struct {
	NameLength    int `required:"true" default:"10" desc:"Length of generated mailbox names"`
	NameAttempts  int `required:"true" default:"8" desc:"Attempts to generate a unique mailbox name"`
	NameMaxLength int `required:"true" default:"64" desc:"Maximum length of a requested mailbox name"`
}

// Process loads and parses configuration from the environment.
func Process() (*Root, error) {
	c := &Root{}
	err := envconfig.Process(prefix, c)
	return c, err
}

// Usage prints out the envconfig usage to Stderr.
func Usage() {
	tabs := tabwriter.NewWriter(os.Stderr, 1, 0, 4, ' ', 0)
	if err := envconfig.Usagef(prefix, &Root{}, tabs, tableFormat); err != nil {
		log.Fatalf("Unable to parse env config: %v", err)
	}
	tabs.Flush()
}
