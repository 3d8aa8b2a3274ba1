// Package main: host service.
//
// The host answers the requests forwarded by the provider service with the configured chain clients and announces
// the HD wallet account selected in the configuration.
package main

import (
	"encoding/hex"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tarancss/hd"

	"github.com/tarancss/dappbridge/host"
	"github.com/tarancss/dappbridge/lib/block"
	"github.com/tarancss/dappbridge/lib/config"
	"github.com/tarancss/dappbridge/lib/logx"
	"github.com/tarancss/dappbridge/lib/msg"
	"github.com/tarancss/dappbridge/lib/msg/amqp"
)

func main() {
	// get command line flags
	confPath := flag.String("c", "", "flag to get configuration from json file")
	monitor := flag.Bool("m", false, "flag to monitor the server with Prometheus at http://localhost:9090")
	flag.Parse()

	// extract configuration
	conf, err := config.ExtractConfiguration(*confPath)
	if err != nil {
		panic(err)
	}

	logx.Configure(conf.LogLevel)
	log := logx.New(nil)
	log.Info().Interface("conf", conf).Msg("configuration")

	// load all blockchains
	blocks, err := block.Init(conf.Bc, log)
	if err != nil {
		panic(err)
	}
	defer block.End(blocks)

	log.Info().Int("chains", len(blocks)).Msg("blockchain clients loaded")

	// load Prometheus monitor
	if *monitor {
		go func() {
			log.Info().Msg("serving metrics API")

			h := http.NewServeMux()

			h.Handle("/metrics", promhttp.Handler())
			_ = http.ListenAndServe(":9100", h)
		}()
	}

	// load message broker
	var mb msg.MsgBroker

	switch conf.MbType {
	case "amqp":
		if mb, err = amqp.New(conf.MbConn, log); err != nil {
			time.Sleep(10 * time.Second) // wait 10s for AMQP to be ready and try to reconnect

			if mb, err = amqp.New(conf.MbConn, log); err != nil {
				panic(err)
			}
		}

		if err = mb.Setup(nil); err != nil {
			panic(err)
		}
	default:
		log.Fatal().Msgf("unknown message broker type: %s", conf.MbType)
	}

	// load HD wallet
	seed, err := hex.DecodeString(conf.Seed)
	if err != nil {
		panic(err)
	}

	hdw, err := hd.Init(seed)
	if err != nil {
		panic(err)
	}

	address, err := host.Address(hdw, conf.Account)
	if err != nil {
		panic(err)
	}

	// create host service
	h := host.New(mb, blocks, address, conf.ChainID, log)

	done, err := h.ManageRequests()
	if err != nil {
		panic(err)
	}

	if err = h.Start(); err != nil {
		log.Error().Err(err).Msg("cannot initialize provider")
	}

	// capture CTRL+C or docker's SIGTERM for gracious exit
	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Info().Msg("program killed !")
		// closing the broker ends the request channel
		errClose := mb.Close()
		log.Info().Err(errClose).Msg("closing message broker")
	}()

	log.Info().Msgf("host: %s", <-done)
}
