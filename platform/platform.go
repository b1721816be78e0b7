package platform

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/brutella/hc/log"
	"golang.org/x/sync/errgroup"

	"github.com/cloudkucooland/dingzfar/accessory"
	"github.com/cloudkucooland/dingzfar/devinfo"
	"github.com/cloudkucooland/dingzfar/discovery"
	"github.com/cloudkucooland/dingzfar/events"
	"github.com/cloudkucooland/dingzfar/fetch"
	"github.com/cloudkucooland/dingzfar/metrics"
	"github.com/cloudkucooland/dingzfar/resilience"
)

// how many configured devices are resolved at once
const registerConcurrency = 8

// Resolver is what the platform asks devices through
type Resolver interface {
	ResolveDingz(ctx context.Context, address, token string) (*devinfo.DeviceInfo, error)
	ResolveMyStrom(ctx context.Context, address, token string, expected devinfo.Family, legacy bool) (*devinfo.DeviceInfo, error)
}

// Options are the parts of the configuration the platform acts on
type Options struct {
	GlobalToken string
	// CallbackURL is handed to every dingz as its generic action target; empty disables
	CallbackURL string
	MotionPoll  bool
	// PullRate of 0 disables polling
	PullRate time.Duration
}

// Candidate is a device we were told about, by the configuration or by a broadcast
type Candidate struct {
	Address string
	Name    string
	Token   string
	Family  devinfo.Family
	// Legacy skips straight to the unversioned info endpoint
	Legacy bool
}

// Result of registering one candidate
type Result struct {
	Candidate Candidate
	Handle    accessory.Handle
	Err       error
}

// Platform resolves candidates and registers them, once, in the registry
type Platform struct {
	opts     Options
	resolver Resolver
	registry *accessory.Registry
	bus      *events.Bus
	client   fetch.Fetcher

	// policies are per device address and per flavour; each carries its own breaker
	mu       sync.Mutex
	fast     map[string]*resilience.Policy
	slow     map[string]*resilience.Policy
	newFast  func() *resilience.Policy
	newSlow  func() *resilience.Policy
	callback map[accessory.Identity]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New wires a platform; Start launches its background work
func New(opts Options, resolver Resolver, registry *accessory.Registry, bus *events.Bus, client fetch.Fetcher) *Platform {
	ctx, cancel := context.WithCancel(context.Background())
	return &Platform{
		opts:     opts,
		resolver: resolver,
		registry: registry,
		bus:      bus,
		client:   client,
		fast:     make(map[string]*resilience.Policy),
		slow:     make(map[string]*resilience.Policy),
		newFast:  func() *resilience.Policy { return resilience.Fast(devinfo.IsRetryable) },
		newSlow:  func() *resilience.Policy { return resilience.Slow(devinfo.IsRetryable) },
		callback: make(map[accessory.Identity]bool),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func (p *Platform) policy(set map[string]*resilience.Policy, build func() *resilience.Policy, address string) *resilience.Policy {
	p.mu.Lock()
	defer p.mu.Unlock()
	if pol, ok := set[address]; ok {
		return pol
	}
	pol := build()
	pol.Retry.OnRetry = func(attempt int, delay time.Duration, err error) {
		log.Debug.Printf("%s: attempt %d failed, next in %s: %s", address, attempt, delay, err.Error())
	}
	pol.Breaker.OnReject = func() {
		metrics.BreakerRejections.WithLabelValues(address).Inc()
	}
	set[address] = pol
	return pol
}

// AddDingz registers the dingz at c.Address
func (p *Platform) AddDingz(ctx context.Context, c Candidate) (accessory.Handle, error) {
	c.Family = devinfo.FamilyDingz
	h, err := p.add(ctx, c)
	if err == nil {
		p.EnsureCallback(h)
	}
	return h, err
}

// AddMyStromSwitch registers the switch at c.Address
func (p *Platform) AddMyStromSwitch(ctx context.Context, c Candidate) (accessory.Handle, error) {
	c.Family = devinfo.FamilySwitch
	return p.add(ctx, c)
}

// AddMyStromLight registers the bulb or LED strip at c.Address
func (p *Platform) AddMyStromLight(ctx context.Context, c Candidate) (accessory.Handle, error) {
	c.Family = devinfo.FamilyLight
	return p.add(ctx, c)
}

// Add picks the entry point from c.Family
func (p *Platform) Add(ctx context.Context, c Candidate) (accessory.Handle, error) {
	switch c.Family {
	case devinfo.FamilyDingz:
		return p.AddDingz(ctx, c)
	case devinfo.FamilySwitch:
		return p.AddMyStromSwitch(ctx, c)
	case devinfo.FamilyLight:
		return p.AddMyStromLight(ctx, c)
	}
	return nil, &devinfo.InvalidTypeError{Address: c.Address, Observed: string(c.Family)}
}

// add runs resolve, validate and register under the fast policy. The only errors it returns
// are *devinfo.DeviceNotReachableError and *devinfo.InvalidTypeError.
func (p *Platform) add(ctx context.Context, c Candidate) (accessory.Handle, error) {
	if c.Token == "" {
		c.Token = p.opts.GlobalToken
	}

	var h accessory.Handle
	var created bool
	err := p.policy(p.fast, p.newFast, c.Address).Do(ctx, func(ctx context.Context) error {
		log.Debug.Printf("%s: resolving %s", c.Address, c.Family)
		info, err := p.resolve(ctx, c)
		if err != nil {
			return err
		}

		info.Name = displayName(c, info)
		id := accessory.IdentityFor(info.MAC)
		log.Debug.Printf("%s: %s is %s", c.Address, info.MAC, id)
		h, created, err = p.registry.Register(id, *info)
		return err
	})
	err = classify(c.Address, err)

	switch {
	case err == nil && created:
		metrics.Registrations.WithLabelValues(string(h.Kind()), "created").Inc()
	case err == nil:
		metrics.Registrations.WithLabelValues(string(h.Kind()), "existing").Inc()
	default:
		var it *devinfo.InvalidTypeError
		if errors.As(err, &it) {
			metrics.Registrations.WithLabelValues(string(c.Family), "invalid_type").Inc()
			log.Info.Printf("%s [%s]: %s", c.Address, c.Name, err.Error())
		} else {
			metrics.Registrations.WithLabelValues(string(c.Family), "unreachable").Inc()
		}
		return nil, err
	}
	return h, nil
}

// resolve validates the family too: the resolver rejects a mismatch with InvalidTypeError
func (p *Platform) resolve(ctx context.Context, c Candidate) (*devinfo.DeviceInfo, error) {
	if c.Family == devinfo.FamilyDingz {
		return p.resolver.ResolveDingz(ctx, c.Address, c.Token)
	}

	info, err := p.resolver.ResolveMyStrom(ctx, c.Address, c.Token, c.Family, c.Legacy)
	if err != nil && !c.Legacy && c.Family == devinfo.FamilySwitch && notFound(err) {
		log.Info.Printf("%s: no versioned api, trying the first generation endpoint", c.Address)
		return p.resolver.ResolveMyStrom(ctx, c.Address, c.Token, c.Family, true)
	}
	return info, err
}

func notFound(err error) bool {
	var fe *fetch.FetchError
	return errors.As(err, &fe) && fe.StatusCode == http.StatusNotFound
}

// configured name, then the device's own, then a placeholder
func displayName(c Candidate, info *devinfo.DeviceInfo) string {
	if c.Name != "" && !(devinfo.IsPlaceholder(c.Name) && info.Name != "") {
		return c.Name
	}
	if info.Name != "" {
		return info.Name
	}
	return info.AccessoryKind.Placeholder()
}

// classify folds whatever the policy surfaced into one of the two registration errors
func classify(address string, err error) error {
	if err == nil {
		return nil
	}
	var it *devinfo.InvalidTypeError
	if errors.As(err, &it) {
		return it
	}
	log.Info.Printf("%s: registration failed: %s", address, err.Error())
	var nr *devinfo.DeviceNotReachableError
	if errors.As(err, &nr) {
		return nr
	}
	return &devinfo.DeviceNotReachableError{Address: address, Err: err}
}

// RegisterConfigured registers every candidate concurrently. One device failing never stops the
// others; every result is returned after its registry commit.
func (p *Platform) RegisterConfigured(ctx context.Context, candidates []Candidate) []Result {
	results := make([]Result, len(candidates))

	var g errgroup.Group
	g.SetLimit(registerConcurrency)
	for i := range candidates {
		i := i
		g.Go(func() error {
			c := candidates[i]
			h, err := p.Add(ctx, c)
			if err != nil {
				log.Info.Printf("unable to register configured device [%s] at %s: %s", c.Name, c.Address, err.Error())
			}
			results[i] = Result{Candidate: c, Handle: h, Err: err}
			return nil
		})
	}
	g.Wait()
	return results
}

// HandleAnnouncement routes a discovered device to its entry point.
// Buttons come back as *devinfo.DeviceNotImplementedError; unknown types are dropped.
func (p *Platform) HandleAnnouncement(ctx context.Context, a discovery.Announcement) error {
	c := Candidate{
		Address: a.Address,
		Name:    a.Type.Kind().Placeholder(),
		Token:   p.opts.GlobalToken,
		Legacy:  a.Type.Legacy(),
	}

	var err error
	switch a.Type.Family() {
	case devinfo.FamilyDingz:
		_, err = p.AddDingz(ctx, c)
	case devinfo.FamilySwitch:
		_, err = p.AddMyStromSwitch(ctx, c)
	case devinfo.FamilyLight:
		_, err = p.AddMyStromLight(ctx, c)
	case devinfo.FamilyButton:
		return &devinfo.DeviceNotImplementedError{MAC: a.MAC, Type: a.Type}
	default:
		log.Debug.Printf("%s at %s: unknown type %d, ignoring", a.MAC, a.Address, uint8(a.Type))
		return nil
	}
	if err != nil {
		log.Info.Printf("unable to register discovered %s at %s: %s", a.MAC, a.Address, err.Error())
	}
	return err
}

// Start launches event dispatch, polling and the callback targets of restored dingz
func (p *Platform) Start() error {
	sub, err := p.bus.Subscribe()
	if err != nil {
		return err
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.dispatch(sub)
	}()
	go func() {
		<-p.ctx.Done()
		sub.Close()
	}()

	if p.opts.PullRate > 0 {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.pollLoop()
		}()
	}

	for _, h := range p.registry.Handles() {
		if h.Kind() == devinfo.KindDingz {
			p.EnsureCallback(h)
		}
	}
	return nil
}

// Shutdown stops everything Start launched, including pending callback retries
func (p *Platform) Shutdown() {
	p.mu.Lock()
	p.cancel()
	p.mu.Unlock()
	p.wg.Wait()
}
