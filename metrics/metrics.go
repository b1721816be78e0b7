package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/brutella/hc/log"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "dingzfar"

var (
	// Datagrams by outcome: accepted, bad_length, duplicate
	Datagrams = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "discovery_datagrams_total",
			Help:      "Discovery broadcasts received, by outcome.",
		},
		[]string{"result"},
	)

	// Registrations by accessory kind (or family on failure) and outcome
	Registrations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registrations_total",
			Help:      "Registration attempts, by kind and outcome.",
		},
		[]string{"kind", "result"},
	)

	BreakerRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_rejections_total",
			Help:      "Calls refused by an open circuit breaker, by device address.",
		},
		[]string{"address"},
	)

	// Callbacks by outcome: published, ignored
	Callbacks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "callbacks_total",
			Help:      "Requests received by the callback server, by outcome.",
		},
		[]string{"result"},
	)

	Polls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "polls_total",
			Help:      "Device state polls, by kind and outcome.",
		},
		[]string{"kind", "result"},
	)

	Accessories = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "accessories",
			Help:      "Accessories in the registry.",
		},
	)
)

func init() {
	prometheus.MustRegister(Datagrams, Registrations, BreakerRejections, Callbacks, Polls, Accessories)
}

// Server exposes /metrics
type Server struct {
	srv http.Server
}

// Start listens on address in the background; an empty address starts nothing
func Start(address string) *Server {
	s := &Server{}
	if address == "" {
		return s
	}

	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	s.srv = http.Server{
		Addr:         address,
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      r,
	}

	go func() {
		log.Info.Printf("serving metrics on %s", address)
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Info.Print(err)
		}
	}()
	return s
}

func (s *Server) Shutdown() {
	if s.srv.Addr == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*15)
	defer cancel()
	s.srv.Shutdown(ctx)
}
