package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/brutella/hc/log"
	"golang.org/x/sync/errgroup"

	"github.com/cloudkucooland/dingzfar/accessory"
	"github.com/cloudkucooland/dingzfar/devinfo"
	"github.com/cloudkucooland/dingzfar/events"
	"github.com/cloudkucooland/dingzfar/fetch"
	"github.com/cloudkucooland/dingzfar/metrics"
)

const (
	pollConcurrency = 4
	callbackPath    = "/api/v1/action/generic/generic"
)

// dispatch hands every bus event to the handle owning the MAC
func (p *Platform) dispatch(sub *events.Subscription) {
	for e := range sub.C {
		h, ok := p.registry.LookupMAC(e.MAC)
		if !ok {
			log.Debug.Printf("%s event for unregistered %s", e.Kind, e.MAC)
			continue
		}
		if err := h.HandleEvent(e); err != nil {
			log.Info.Printf("[%s] %s: %s", h.Device().Name, e.Kind, err.Error())
			continue
		}
		if e.Kind == events.InfoUpdate {
			if err := p.registry.Save(); err != nil {
				log.Info.Printf("warning: unable to save accessories: %s", err.Error())
			}
		}
	}
}

// EnsureCallback points a dingz's generic action at the callback server, once per process.
// The slow policy keeps trying in the background until it works or the platform shuts down.
func (p *Platform) EnsureCallback(h accessory.Handle) {
	if p.opts.CallbackURL == "" || h.Kind() != devinfo.KindDingz {
		return
	}
	d := h.Device()
	id := accessory.IdentityFor(d.MAC)

	p.mu.Lock()
	if p.callback[id] || p.ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	p.callback[id] = true
	// added under mu so Shutdown cannot be waiting already
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer p.wg.Done()
		err := p.policy(p.slow, p.newSlow, d.Address).Do(p.ctx, func(ctx context.Context) error {
			return p.setCallback(ctx, h)
		})
		if err != nil {
			log.Info.Printf("[%s] callback target not set: %s", d.Name, err.Error())
			return
		}
		log.Info.Printf("[%s] sends its button actions to %s", d.Name, p.opts.CallbackURL)
	}()
}

func (p *Platform) setCallback(ctx context.Context, h accessory.Handle) error {
	d := h.Device()
	res, err := p.client.Fetch(ctx, fetch.Request{
		URL:    fmt.Sprintf("http://%s%s", d.Address, callbackPath),
		Method: http.MethodPost,
		Body:   p.opts.CallbackURL,
		Token:  d.Token,
	})
	if err != nil {
		return &devinfo.DeviceNotReachableError{Address: d.Address, Err: err}
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return &devinfo.DeviceNotReachableError{Address: d.Address, Err: fmt.Errorf("callback target refused: status %d", res.StatusCode)}
	}
	return nil
}

func (p *Platform) pollLoop() {
	ticker := time.NewTicker(p.opts.PullRate)
	defer ticker.Stop()

	for {
		select {
		case <-p.ctx.Done():
			return
		case <-ticker.C:
			p.PollAll(p.ctx)
		}
	}
}

// PollAll reads the state of every registered device and publishes it. Failures are logged.
func (p *Platform) PollAll(ctx context.Context) {
	var g errgroup.Group
	g.SetLimit(pollConcurrency)
	for _, h := range p.registry.Handles() {
		h := h
		g.Go(func() error {
			d := h.Device()
			state, err := p.poll(ctx, h.Kind(), d)
			if err != nil {
				metrics.Polls.WithLabelValues(string(h.Kind()), "failed").Inc()
				log.Debug.Printf("[%s] poll at %s failed: %s", d.Name, d.Address, err.Error())
				return nil
			}
			if state == nil {
				return nil
			}
			metrics.Polls.WithLabelValues(string(h.Kind()), "ok").Inc()
			p.bus.Publish(events.Event{Kind: events.StateUpdate, MAC: d.MAC, State: state})
			return nil
		})
	}
	g.Wait()
}

func (p *Platform) poll(ctx context.Context, kind devinfo.Kind, d devinfo.DeviceInfo) (*events.State, error) {
	switch kind {
	case devinfo.KindSwitch:
		return p.pollSwitch(ctx, d)
	case devinfo.KindLightbulb, devinfo.KindLedStrip:
		return p.pollLight(ctx, d)
	case devinfo.KindDingz:
		if !p.opts.MotionPoll {
			return nil, nil
		}
		return p.pollDingz(ctx, d)
	}
	return nil, nil
}

func (p *Platform) get(ctx context.Context, d devinfo.DeviceInfo, path string, v interface{}) error {
	res, err := p.client.Fetch(ctx, fetch.Request{
		URL:        fmt.Sprintf("http://%s%s", d.Address, path),
		Token:      d.Token,
		ReturnBody: true,
	})
	if err != nil {
		return err
	}
	return json.Unmarshal(res.Body, v)
}

type switchReport struct {
	Power       float64  `json:"power"`
	Relay       bool     `json:"relay"`
	Temperature *float64 `json:"temperature"`
}

func (p *Platform) pollSwitch(ctx context.Context, d devinfo.DeviceInfo) (*events.State, error) {
	var r switchReport
	if err := p.get(ctx, d, "/report", &r); err != nil {
		return nil, err
	}
	return &events.State{On: &r.Relay, Power: &r.Power, Temperature: r.Temperature}, nil
}

type lightReport struct {
	On    bool    `json:"on"`
	Color string  `json:"color"`
	Mode  string  `json:"mode"`
	Power float64 `json:"power"`
}

func (p *Platform) pollLight(ctx context.Context, d devinfo.DeviceInfo) (*events.State, error) {
	var all map[string]lightReport
	if err := p.get(ctx, d, "/api/v1/device", &all); err != nil {
		return nil, err
	}
	var r lightReport
	var found bool
	for mac, v := range all {
		if devinfo.NormalizeMAC(mac) == d.MAC {
			r, found = v, true
		}
	}
	if !found {
		return nil, fmt.Errorf("no state for %s in report", d.MAC)
	}

	s := &events.State{On: &r.On, Power: &r.Power}
	if r.Mode == "hsv" {
		// hue;saturation;value
		parts := strings.Split(r.Color, ";")
		if len(parts) == 3 {
			if v, err := strconv.Atoi(parts[2]); err == nil {
				s.Brightness = &v
			}
		}
	}
	return s, nil
}

type dingzMotion struct {
	Success bool `json:"success"`
	Motion  bool `json:"motion"`
}

type dingzTemp struct {
	Success     bool    `json:"success"`
	Temperature float64 `json:"temperature"`
}

func (p *Platform) pollDingz(ctx context.Context, d devinfo.DeviceInfo) (*events.State, error) {
	s := &events.State{}

	var m dingzMotion
	if err := p.get(ctx, d, "/api/v1/motion", &m); err != nil {
		return nil, err
	}
	if m.Success {
		s.Motion = &m.Motion
	}

	var t dingzTemp
	if err := p.get(ctx, d, "/api/v1/temp", &t); err != nil {
		return nil, err
	}
	if t.Success {
		s.Temperature = &t.Temperature
	}
	return s, nil
}
