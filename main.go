package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"

	"github.com/alexflint/go-arg"

	"github.com/quentintaranpino/coracle/app"
	"github.com/quentintaranpino/coracle/pkg/slog"
	"github.com/quentintaranpino/coracle/pkg/store"
	badgerstore "github.com/quentintaranpino/coracle/pkg/store/badger"
	memorystore "github.com/quentintaranpino/coracle/pkg/store/memory"
)

var (
	AppName = "coracle"
	Version = "v0.0.1"
)

var args app.Config

func main() {
	var log, chk = slog.New(os.Stderr)
	arg.MustParse(&args)
	log.T.S(args)

	var err error
	var dataDir, configPath string
	var haveConfig bool
	if !args.Memory {
		var dataDirBase string
		if dataDirBase, err = os.UserHomeDir(); chk.E(err) {
			os.Exit(1)
		}
		dataDir = filepath.Join(dataDirBase, args.Profile)
		log.D.F("using profile directory: %s", dataDir)
		if err = os.MkdirAll(dataDir, 0700); chk.E(err) {
			os.Exit(1)
		}
		configPath = filepath.Join(dataDir, "config.json")
		if _, err = os.Stat(configPath); err == nil {
			haveConfig = true
			conf := &app.Config{}
			if err = conf.Load(configPath); chk.E(err) {
				os.Exit(1)
			}
			// flags win over the stored configuration
			args.Backstop(conf)
		}
	}
	args.Backstop(app.GetDefaultConfig())
	if args.LogLevel != "" {
		slog.SetLogLevelName(args.LogLevel)
	}
	runtime.GOMAXPROCS(args.MaxProcs)
	if args.Pubkey == "" {
		log.E.Ln("a pubkey to sync for is required (--pubkey)")
		os.Exit(1)
	}
	var st store.T
	if args.Memory {
		st = memorystore.New()
	} else {
		if !haveConfig {
			if err = args.Save(configPath); err != nil {
				log.W.F("could not write %s: %v", configPath, err)
			}
		}
		if st, err = badgerstore.Open(dataDir); chk.E(err) {
			os.Exit(1)
		}
	}
	defer func() { chk.E(st.Close()) }()

	c, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	log.I.F("%s %s syncing for %s", AppName, Version, args.Pubkey)
	s := app.NewSyncer(c, &args, st)
	if err = s.Run(c); err != nil && c.Err() == nil {
		log.E.F("sync stopped: %v", err)
		os.Exit(1)
	}
	log.I.Ln("shutting down")
}
