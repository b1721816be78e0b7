package callback

import (
	"context"
	"net"
	"net/http"
	"net/http/httputil"
	"time"

	"github.com/brutella/hc/log"
	"github.com/gorilla/mux"

	"github.com/cloudkucooland/dingzfar/devinfo"
	"github.com/cloudkucooland/dingzfar/events"
	"github.com/cloudkucooland/dingzfar/metrics"
)

// DefaultPort for the callback listener
const DefaultPort = 18081

// defaultAction is what an empty action parameter means: a single press
const defaultAction = "1"

// Server receives the devices' action callbacks and puts them on the bus
type Server struct {
	bus *events.Bus
	srv http.Server
	ln  net.Listener
}

// New returns a server publishing to bus
func New(bus *events.Bus) *Server {
	return &Server{bus: bus}
}

// Handler answers every method on every path
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(debugMW)
	r.PathPrefix("/").HandlerFunc(s.actionHandler)
	return r
}

// Start binds address and serves in the background. A bind failure is returned; it is fatal.
func (s *Server) Start(address string) error {
	ln, err := net.Listen("tcp", address)
	if err != nil {
		return err
	}
	s.ln = ln
	s.srv = http.Server{
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      s.Handler(),
	}

	go func() {
		log.Info.Printf("starting up callback listener on %s", ln.Addr())
		if err := s.srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			log.Info.Print(err)
		}
	}()
	return nil
}

// Addr is the bound address, nil before Start
func (s *Server) Addr() net.Addr {
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

func (s *Server) Shutdown() {
	if s.ln == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*15)
	defer cancel()
	s.srv.Shutdown(ctx)
}

func (s *Server) actionHandler(w http.ResponseWriter, r *http.Request) {
	// the device does not wait for anything meaningful
	w.WriteHeader(http.StatusNoContent)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	e, ok := parse(r)
	if !ok {
		metrics.Callbacks.WithLabelValues("ignored").Inc()
		return
	}
	metrics.Callbacks.WithLabelValues("published").Inc()
	s.bus.Publish(e)
}

// parse wants mac, button and action; an empty action is a single press, a missing one is nothing
func parse(r *http.Request) (events.Event, bool) {
	q := r.URL.Query()

	mac, button := q.Get("mac"), q.Get("button")
	if mac == "" || button == "" {
		return events.Event{}, false
	}
	actions, ok := q["action"]
	if !ok {
		return events.Event{}, false
	}
	action := actions[0]
	if action == "" {
		action = defaultAction
	}

	return events.Event{
		Kind:   events.DeviceAction,
		MAC:    devinfo.NormalizeMAC(mac),
		Button: button,
		Action: action,
	}, true
}

func debugMW(next http.Handler) http.Handler {
	return http.HandlerFunc(func(res http.ResponseWriter, req *http.Request) {
		dump, _ := httputil.DumpRequest(req, false)
		log.Debug.Print(string(dump))
		next.ServeHTTP(res, req)
	})
}
