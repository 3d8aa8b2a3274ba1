// Package main: provider service.
//
// The provider serves the dapp facing wallet API over http and forwards the requests it cannot answer to the host
// through the message broker. Host calls (resolve, reject, initialize, event) are consumed from the broker and can
// also be posted to the /host endpoints. Log lines are forwarded to the host.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tarancss/dappbridge/lib/config"
	"github.com/tarancss/dappbridge/lib/correlator"
	"github.com/tarancss/dappbridge/lib/logx"
	"github.com/tarancss/dappbridge/lib/loop"
	"github.com/tarancss/dappbridge/lib/metrics"
	"github.com/tarancss/dappbridge/lib/msg"
	"github.com/tarancss/dappbridge/lib/msg/amqp"
	"github.com/tarancss/dappbridge/lib/store"
	"github.com/tarancss/dappbridge/lib/store/db"
	"github.com/tarancss/dappbridge/provider"
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

		defer func() {
			errClose := mb.Close()
			log.Info().Err(errClose).Msg("closing message broker")
		}()

		// from now on diagnostics go to the host
		log = logx.New(logx.SinkFunc(mb.SendLog))
	default:
		log.Warn().Msgf("unknown message broker type: %s. Requests to the host will fail", conf.MbType)
	}

	// connect to database
	var dbConn store.DB

	if conf.DbConn != "" {
		if dbConn, err = db.New(conf.DbType, conf.DbConn); err != nil {
			panic(err)
		}

		log.Info().Str("dbtype", conf.DbType).Msg("connected to flag store")

		defer func() {
			errClose := db.Close(conf.DbType, dbConn)
			log.Info().Err(errClose).Msg("disconnecting database")
		}()
	}

	// load Prometheus monitor
	if *monitor {
		metrics.Register(prometheus.DefaultRegisterer)

		go func() {
			log.Info().Msg("serving metrics API")

			h := http.NewServeMux()

			h.Handle("/metrics", promhttp.Handler())
			_ = http.ListenAndServe(":9100", h)
		}()
	}

	// start page loop
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lp := loop.New(log)

	go func() {
		log.Info().Err(lp.Run(ctx)).Msg("page loop stopped")
	}()

	// create provider service
	var opts []correlator.Option
	if conf.Timeout > 0 {
		opts = append(opts, correlator.WithTimeout(time.Duration(conf.Timeout)*time.Millisecond))
	}

	var out msg.Outbound
	if mb != nil {
		out = mb
	}

	p := provider.New(conf.ChainID, out, lp, dbConn, log, opts...)

	// capture CTRL+C or docker's SIGTERM for gracious exit
	finish := make(chan int)

	go func() {
		sigchan := make(chan os.Signal, 10)
		signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)
		<-sigchan
		log.Info().Msg("program killed !")
		// do last actions and wait for all write operations to end
		p.StopProvider()
		cancel()
		close(finish)
	}()

	// manage host calls
	if mb != nil {
		if err := p.ManageCalls(mb); err != nil {
			log.Error().Err(err).Msg("error setting up broker readers for host calls")
		}
	}

	// init RESTful API, wait for its return and log response
	log.Info().Msgf("provider: %s", p.Init(conf.RestfulEndpoint, conf.Port, conf.SSLPort, conf.SSLCert, conf.SSLKey))

	<-finish
}
