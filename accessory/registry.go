package accessory

import (
	"fmt"
	"sort"
	"sync"

	"github.com/brutella/hc/log"

	"github.com/cloudkucooland/dingzfar/devinfo"
	"github.com/cloudkucooland/dingzfar/events"
)

// Factory builds the handle for a kind; New with a bound client in production
type Factory func(devinfo.Kind, devinfo.DeviceInfo) (Handle, error)

// Registry maps identities to handles. An entry, once made, is never replaced or removed.
type Registry struct {
	factory Factory
	bus     *events.Bus
	store   Store

	mu      sync.RWMutex
	handles map[Identity]Handle
	onAdd   []func(Handle)

	saveMu sync.Mutex
}

// NewRegistry returns an empty registry; bus and store may be nil
func NewRegistry(factory Factory, bus *events.Bus, store Store) *Registry {
	return &Registry{
		factory: factory,
		bus:     bus,
		store:   store,
		handles: make(map[Identity]Handle),
	}
}

// OnAdd registers fn to be called for every newly registered handle, not for restored ones
func (r *Registry) OnAdd(fn func(Handle)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onAdd = append(r.onAdd, fn)
}

func (r *Registry) Lookup(id Identity) (Handle, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handles[id]
	return h, ok
}

// LookupMAC is Lookup keyed by MAC
func (r *Registry) LookupMAC(mac string) (Handle, bool) {
	return r.Lookup(IdentityFor(mac))
}

// Len is the number of registered accessories
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Handles returns every registered handle, ordered by identity
func (r *Registry) Handles() []Handle {
	r.mu.RLock()
	ids := make([]string, 0, len(r.handles))
	for id := range r.handles {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)
	out := make([]Handle, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.handles[Identity(id)])
	}
	r.mu.RUnlock()
	return out
}

// Register inserts a handle for info under id unless one is already there.
// When it exists the existing handle is returned with created == false, an InfoUpdate carrying
// info is published and the handle is asked to identify itself. The check and the insert are
// one step: concurrent calls for the same id build exactly one handle.
func (r *Registry) Register(id Identity, info devinfo.DeviceInfo) (h Handle, created bool, err error) {
	r.mu.Lock()
	if existing, ok := r.handles[id]; ok {
		r.mu.Unlock()
		log.Debug.Printf("%s (%s) already registered", info.MAC, id)
		if r.bus != nil {
			r.bus.Publish(events.Event{Kind: events.InfoUpdate, MAC: info.MAC, Device: &info})
		}
		existing.Identify()
		return existing, false, nil
	}

	h, err = r.factory(info.AccessoryKind, info)
	if err != nil {
		r.mu.Unlock()
		return nil, false, err
	}
	r.handles[id] = h
	hooks := append([]func(Handle){}, r.onAdd...)
	r.mu.Unlock()

	log.Info.Printf("registered %s [%s] at %s as %s", info.MAC, info.Name, info.Address, info.AccessoryKind)
	if err := r.Save(); err != nil {
		// the handle stays registered; it will be saved with the next one
		log.Info.Printf("warning: unable to save accessories: %s", err.Error())
	}
	for _, fn := range hooks {
		fn(h)
	}
	return h, true, nil
}

// Restore replays persisted records. Damaged or unknown entries are logged and skipped.
// It returns the number of handles restored.
func (r *Registry) Restore(records []Record) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for i, rec := range records {
		if rec.Device == nil || rec.Device.MAC == "" {
			log.Info.Printf("warning: persisted accessory %d has no device record, skipping", i)
			continue
		}
		if rec.Kind == devinfo.KindUnknown {
			log.Info.Printf("warning: persisted accessory %s has no kind, skipping", rec.Device.MAC)
			continue
		}
		id := IdentityFor(rec.Device.MAC)
		if _, ok := r.handles[id]; ok {
			log.Info.Printf("warning: persisted accessory %s appears twice, skipping", rec.Device.MAC)
			continue
		}

		info := *rec.Device
		info.MAC = devinfo.NormalizeMAC(info.MAC)
		info.AccessoryKind = rec.Kind
		h, err := r.factory(rec.Kind, info)
		if err != nil {
			log.Info.Printf("warning: persisted accessory %s: %s, skipping", info.MAC, err.Error())
			continue
		}
		r.handles[id] = h
		n++
	}
	return n
}

// Load restores from the store
func (r *Registry) Load() (int, error) {
	if r.store == nil {
		return 0, nil
	}
	records, err := r.store.Load()
	if err != nil {
		return 0, fmt.Errorf("loading accessories: %w", err)
	}
	return r.Restore(records), nil
}

// Save writes every handle's current record to the store
func (r *Registry) Save() error {
	if r.store == nil {
		return nil
	}
	r.saveMu.Lock()
	defer r.saveMu.Unlock()

	handles := r.Handles()
	records := make([]Record, 0, len(handles))
	for _, h := range handles {
		d := h.Device()
		records = append(records, Record{Device: &d, Kind: h.Kind()})
	}
	return r.store.Save(records)
}
