package app

import (
	"encoding/json"
	"errors"
	"os"
	"time"

	"github.com/quentintaranpino/coracle/pkg/slog"
)

var log, chk = slog.New(os.Stderr)

func GetDefaultConfig() *Config {
	return &Config{
		Relays: []string{
			"wss://relay.damus.io",
			"wss://nos.lol",
			"wss://relay.nostr.band",
		},
		Profile:  "coracle",
		Limit:    50,
		MaxProcs: 4,
		LogLevel: "info",
	}
}

type Config struct {
	Relays  []string `arg:"-r,--relay,separate" json:"relays" help:"relay addresses to sync from (can use flag repeatedly)"`
	Pubkey  string   `arg:"--pubkey" json:"pubkey" help:"public key whose social graph to sync"`
	Profile string   `arg:"-p,--profile" default:"coracle" json:"-" help:"profile name to use for storage"`
	Memory  bool     `arg:"--memory" json:"memory" help:"keep all state in memory instead of the local badger database"`
	// Limit is the page size requested from each relay per cursor load.
	Limit int `arg:"-l,--limit" json:"limit" help:"page size to request from each relay"` // default:"50"
	// DefaultAuthors backstop scoped queries when the contact list has
	// not been fetched yet.
	DefaultAuthors []string      `arg:"--author,separate" json:"default_authors" help:"authors to fall back on before the contact list is known"`
	MaxProcs       int           `arg:"--maxprocs" json:"max_procs" help:"maximum number of goroutines to use"`                                              // default:"4"
	LogLevel       string        `arg:"--loglevel" help:"set log level [off,fatal,error,warn,info,debug,trace] (can also use GODEBUG environment variable)"` // default:"info"
	PollFrequency  time.Duration `arg:"--pollfrequency" json:"poll_frequency" help:"interval between feed poll cycles; zero derives it from how specific the active filters are"`
}

// Backstop fills zero-valued fields from src, leaving anything the
// caller set alone. A zero PollFrequency stays zero when src has none
// either, which means the poll interval is derived from the active
// filters at runtime.
func (c *Config) Backstop(src *Config) {
	if len(c.Relays) == 0 {
		c.Relays = src.Relays
	}
	if c.Pubkey == "" {
		c.Pubkey = src.Pubkey
	}
	if c.Limit <= 0 {
		c.Limit = src.Limit
	}
	if len(c.DefaultAuthors) == 0 {
		c.DefaultAuthors = src.DefaultAuthors
	}
	if c.MaxProcs <= 0 {
		c.MaxProcs = src.MaxProcs
	}
	if c.LogLevel == "" {
		c.LogLevel = src.LogLevel
	}
	if c.PollFrequency <= 0 {
		c.PollFrequency = src.PollFrequency
	}
}

func (c *Config) Save(filename string) (err error) {
	if c == nil {
		err = errors.New("cannot save nil config")
		log.E.Ln(err)
		return
	}
	var b []byte
	if b, err = json.MarshalIndent(c, "", "  "); chk.E(err) {
		return
	}
	if err = os.WriteFile(filename, b, 0600); chk.E(err) {
		return
	}
	return
}

func (c *Config) Load(filename string) (err error) {
	if c == nil {
		err = errors.New("cannot load into nil config")
		log.E.Ln(err)
		return
	}
	var b []byte
	if b, err = os.ReadFile(filename); chk.E(err) {
		return
	}
	if err = json.Unmarshal(b, c); chk.E(err) {
		return
	}
	return
}
