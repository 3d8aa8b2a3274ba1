package provider

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const timeout = 15

// Router returns the routes of the provider RESTful API: the page side JSON-RPC surface and the host entry points.
func (p *Provider) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/", p.homeHandler)
	r.HandleFunc("/rpc", p.rpcHandler).Methods("POST")                    // provider request
	r.HandleFunc("/state", p.stateHandler).Methods("GET")                 // provider state
	r.HandleFunc("/host/resolve/{id}", p.resolveHandler).Methods("POST")  // complete a pending request
	r.HandleFunc("/host/reject/{id}", p.rejectHandler).Methods("POST")    // fail a pending request
	r.HandleFunc("/host/initialize", p.initializeHandler).Methods("POST") // set chain and address
	r.HandleFunc("/host/event/{kind}", p.eventHandler).Methods("POST")    // publish an event

	return r
}

// Init sets up and starts the http/https server to service the RESTful API of the provider. If sslPort, ssCert and
// sslKey are informed, it will start an https (TLS) server on the specified endpoint. It returns after StopProvider.
func (p *Provider) Init(endpoint, port, sslPort, sslCert, sslKey string) string {
	r := p.Router()

	// setup shutdown channel
	p.sc = make(chan struct{})

	errc := make(chan error, 2) //nolint:gomnd // one per server

	// start http server
	if port != "" {
		p.s = &http.Server{
			Handler:      r,
			Addr:         endpoint + ":" + port,
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			errc <- fmt.Errorf("http: %w", p.s.ListenAndServe())
		}()

		p.log.Info().Msgf("listening to API http requests on %s:%s", endpoint, port)
	}
	// start https server
	if sslPort != "" && sslCert != "" && sslKey != "" {
		p.ss = &http.Server{
			Handler:      r,
			Addr:         endpoint + ":" + sslPort,
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			errc <- fmt.Errorf("https: %w", p.ss.ListenAndServeTLS(sslCert, sslKey))
		}()

		p.log.Info().Msgf("listening to API https requests on %s:%s", endpoint, sslPort)
	}
	// wait for servers to be shutdown
	<-p.sc

	res := "shutdown"

	for {
		select {
		case err := <-errc:
			res += " " + err.Error()
		default:
			return res
		}
	}
}
