package discovery

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/brutella/hc/log"

	"github.com/cloudkucooland/dingzfar/devinfo"
	"github.com/cloudkucooland/dingzfar/metrics"
)

const (
	// DefaultPort is where myStrom and dingz devices broadcast
	DefaultPort = 7979
	// DatagramLen is fixed: 6 bytes MAC, 1 byte type, 1 reserved
	DatagramLen = 8
	// Window is how long one session listens
	Window = 10 * time.Minute
)

// State of a listener
type State int

const (
	Idle State = iota
	Listening
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// ErrListening is returned by Start while a session is running
var ErrListening = errors.New("discovery: already listening")

// Announcement is one decoded broadcast
type Announcement struct {
	MAC     string
	Type    devinfo.DeviceType
	Address string
	Seen    time.Time
}

// Handler gets each new MAC once per session, on its own goroutine
type Handler func(context.Context, Announcement) error

// Listener runs bounded discovery sessions. A session does not restart on its own.
type Listener struct {
	port    int
	window  time.Duration
	handler Handler

	mu    sync.Mutex
	state State
	seen  map[string]time.Time
	conn  *net.UDPConn
	done  chan struct{}

	handlers sync.WaitGroup
}

// New returns an idle listener; a zero window means Window
func New(port int, window time.Duration, handler Handler) *Listener {
	if window <= 0 {
		window = Window
	}
	return &Listener{port: port, window: window, handler: handler, state: Idle}
}

func (l *Listener) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

// Addr is the bound socket address while listening
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.conn == nil {
		return nil
	}
	return l.conn.LocalAddr()
}

// Done is closed when the current session stops
func (l *Listener) Done() <-chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.done
}

// Start binds the socket and begins a new session with an empty seen set.
// A bind failure is returned to the caller, who should treat it as fatal.
// Handlers are given ctx; cancelling it also ends the session.
func (l *Listener) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == Listening {
		return ErrListening
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: nil, Port: l.port})
	if err != nil {
		return err
	}
	deadline := time.Now().Add(l.window)
	if err := conn.SetReadDeadline(deadline); err != nil {
		conn.Close()
		return err
	}

	l.conn = conn
	l.seen = make(map[string]time.Time)
	l.state = Listening
	l.done = make(chan struct{})
	log.Info.Printf("discovery listening on %s until %s", conn.LocalAddr(), deadline.Format(time.Kitchen))

	go l.loop(ctx, conn, l.done)
	return nil
}

// Stop ends the session early
func (l *Listener) Stop() {
	l.mu.Lock()
	conn := l.conn
	l.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// Wait blocks until every handler started so far has returned
func (l *Listener) Wait() {
	l.handlers.Wait()
}

func (l *Listener) loop(ctx context.Context, conn *net.UDPConn, done chan struct{}) {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	defer func() {
		close(stop)
		conn.Close()
		l.mu.Lock()
		l.state = Stopped
		l.conn = nil
		l.mu.Unlock()
		close(done)
		log.Info.Printf("discovery stopped")
	}()

	// room for more than one datagram so oversized ones show up as such
	buffer := make([]byte, 64)
	for {
		n, addr, err := conn.ReadFromUDP(buffer)
		if err != nil {
			var ne net.Error
			if !errors.As(err, &ne) || !ne.Timeout() {
				log.Debug.Printf("discovery read: %s", err.Error())
			}
			return
		}
		l.handle(ctx, buffer[:n], addr)
	}
}

func (l *Listener) handle(ctx context.Context, b []byte, addr *net.UDPAddr) {
	if len(b) != DatagramLen {
		metrics.Datagrams.WithLabelValues("bad_length").Inc()
		log.Debug.Printf("discovery: dropping %d byte datagram from %s", len(b), addr)
		return
	}

	a := Announcement{
		MAC:     devinfo.MACFromBytes(b[0:6]),
		Type:    devinfo.DeviceType(b[6]),
		Address: addr.IP.String(),
		Seen:    time.Now(),
	}

	l.mu.Lock()
	if _, ok := l.seen[a.MAC]; ok {
		l.mu.Unlock()
		metrics.Datagrams.WithLabelValues("duplicate").Inc()
		return
	}
	l.seen[a.MAC] = a.Seen
	l.mu.Unlock()

	metrics.Datagrams.WithLabelValues("accepted").Inc()
	log.Debug.Printf("discovery: %s type %s at %s", a.MAC, a.Type, a.Address)

	l.handlers.Add(1)
	go func() {
		defer l.handlers.Done()
		err := l.handler(ctx, a)
		if err == nil {
			return
		}
		var ni *devinfo.DeviceNotImplementedError
		if errors.As(err, &ni) {
			log.Debug.Printf("discovery: %s", err.Error())
			return
		}
		log.Info.Printf("discovery: %s at %s: %s", a.MAC, a.Address, err.Error())
	}()
}
