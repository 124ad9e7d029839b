package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/TheoBaudoinLighting/kadmesh"
	"github.com/TheoBaudoinLighting/kadmesh/config"
	"github.com/TheoBaudoinLighting/kadmesh/dht"
	"github.com/TheoBaudoinLighting/kadmesh/routing"
)

// these two are inserted by the makefile at build time
var (
	Version   = "N/A"
	BuildTime = "N/A"
)

func main() {
	log.SetLevel(log.DebugLevel)
	formatter := new(log.TextFormatter)
	formatter.FullTimestamp = true
	formatter.TimestampFormat = "15:04:05"
	log.SetFormatter(formatter)

	cfg, err := config.Load(".")
	if err != nil {
		log.WithError(err).Fatal("failed to load config")
	}
	if level, lerr := log.ParseLevel(cfg.Log.Level); lerr == nil {
		log.SetLevel(level)
	}

	cfg.Watch(func(reloaded *config.Config) {
		if level, lerr := log.ParseLevel(reloaded.Log.Level); lerr == nil {
			log.SetLevel(level)
		}
	})

	id, err := routing.RandomID()
	if err != nil {
		log.WithError(err).Fatal("failed to generate node id")
	}

	peer := kadmesh.NewPeer(id, cfg.Bind.Address, cfg.Bind.Port, cfg.Net.MaxPeers)

	log.WithFields(log.Fields{
		"version": Version,
		"built":   BuildTime,
		"id":      id.String(),
	}).Info("starting kadmeshd")

	if err := peer.Listen(); err != nil {
		log.WithError(err).Fatal("failed to listen")
	}
	defer peer.Stop()

	if cfg.DHT.Enabled {
		var opts []dht.Option
		if cfg.DHT.TTL > 0 {
			opts = append(opts, dht.WithTTL(cfg.DHT.TTL))
		}
		if cfg.DHT.MaintenanceInterval > 0 {
			opts = append(opts, dht.WithMaintenanceInterval(cfg.DHT.MaintenanceInterval))
		}
		if err := peer.EnableDHT(opts...); err != nil {
			log.WithError(err).Fatal("failed to enable dht")
		}
		for _, addr := range cfg.DHT.Bootstrap {
			if err := bootstrap(peer, addr); err != nil {
				log.WithField("address", addr).WithError(err).Warn("bootstrap failed")
			}
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)

	replDone := make(chan error, 1)
	repl := newREPL(peer)
	go func() {
		replDone <- repl.Run(os.Stdin, os.Stdout)
	}()

	select {
	case <-sigCh:
		log.Info("received SIGINT, shutting down")
	case err := <-replDone:
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}
}
