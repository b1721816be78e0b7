package accessory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/brutella/hc/characteristic"
	"github.com/brutella/hc/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudkucooland/dingzfar/devinfo"
	"github.com/cloudkucooland/dingzfar/events"
	"github.com/cloudkucooland/dingzfar/fetch"
)

type identifier interface {
	Identified() int
}

func testInfo(mac string, kind devinfo.Kind) devinfo.DeviceInfo {
	return devinfo.DeviceInfo{
		Name:          "Kitchen",
		Address:       "192.0.2.10",
		MAC:           mac,
		Model:         "WiFi Switch CH v2",
		Type:          devinfo.TypeSwitchCHv2,
		AccessoryKind: kind,
	}
}

type countingFactory struct {
	calls int32
}

func (c *countingFactory) New(kind devinfo.Kind, info devinfo.DeviceInfo) (Handle, error) {
	atomic.AddInt32(&c.calls, 1)
	return New(kind, info, nil)
}

type memStore struct {
	mu      sync.Mutex
	records []Record
	saves   int
}

func (m *memStore) Load() ([]Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records, nil
}

func (m *memStore) Save(r []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = r
	m.saves++
	return nil
}

func TestIdentity(t *testing.T) {
	a := IdentityFor("AABBCCDDEEFF")
	assert.Equal(t, a, IdentityFor("AABBCCDDEEFF"))
	assert.Equal(t, a, IdentityFor("aa:bb:cc:dd:ee:ff"))
	assert.NotEqual(t, a, IdentityFor("AABBCCDDEEF0"))
	assert.Len(t, a.String(), 36)
}

func TestNewUnknownKind(t *testing.T) {
	_, err := New(devinfo.Kind("Toaster"), testInfo("AABBCCDDEEFF", "Toaster"), nil)
	var uk *ErrUnknownKind
	require.ErrorAs(t, err, &uk)
	assert.Equal(t, devinfo.Kind("Toaster"), uk.Kind)
}

func TestNewVariants(t *testing.T) {
	for _, kind := range []devinfo.Kind{devinfo.KindDingz, devinfo.KindSwitch, devinfo.KindLightbulb, devinfo.KindLedStrip} {
		h, err := New(kind, testInfo("AABBCCDDEEFF", ""), nil)
		require.NoError(t, err, kind)
		assert.Equal(t, kind, h.Kind())
		assert.Equal(t, kind, h.Device().AccessoryKind)
		assert.Equal(t, uint64(0xAABBCCDDEEFF), h.Accessory().ID)
	}
}

func TestRegisterIsIdempotent(t *testing.T) {
	bus := events.New()
	sub, err := bus.Subscribe(events.InfoUpdate)
	require.NoError(t, err)
	f := &countingFactory{}
	store := &memStore{}
	r := NewRegistry(f.New, bus, store)

	var added []Handle
	r.OnAdd(func(h Handle) { added = append(added, h) })

	info := testInfo("AABBCCDDEEFF", devinfo.KindSwitch)
	id := IdentityFor(info.MAC)

	first, created, err := r.Register(id, info)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, added, 1)
	assert.Len(t, store.records, 1)

	moved := info
	moved.Address = "192.0.2.99"
	second, created, err := r.Register(id, moved)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), f.calls)
	assert.Equal(t, 1, r.Len())
	assert.Len(t, added, 1)
	assert.Equal(t, 1, first.(identifier).Identified())

	select {
	case e := <-sub.C:
		assert.Equal(t, events.InfoUpdate, e.Kind)
		require.NotNil(t, e.Device)
		assert.Equal(t, "192.0.2.99", e.Device.Address)
	case <-time.After(time.Second):
		t.Fatal("no info update published")
	}
}

func TestRegisterConcurrent(t *testing.T) {
	f := &countingFactory{}
	r := NewRegistry(f.New, nil, nil)
	info := testInfo("AABBCCDDEEFF", devinfo.KindSwitch)
	id := IdentityFor(info.MAC)

	var created int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, c, err := r.Register(id, info)
			assert.NoError(t, err)
			if c {
				atomic.AddInt32(&created, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), created)
	assert.Equal(t, int32(1), f.calls)
	assert.Equal(t, 1, r.Len())
}

func TestRegisterUnknownKindLeavesRegistryAlone(t *testing.T) {
	r := NewRegistry(func(k devinfo.Kind, i devinfo.DeviceInfo) (Handle, error) { return New(k, i, nil) }, nil, nil)
	info := testInfo("AABBCCDDEEFF", devinfo.KindUnknown)
	_, _, err := r.Register(IdentityFor(info.MAC), info)
	assert.Error(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestRestoreSkipsDamaged(t *testing.T) {
	f := &countingFactory{}
	r := NewRegistry(f.New, nil, nil)

	good := testInfo("aabbccddeeff", "")
	other := testInfo("AABBCCDDEE00", "")
	noMAC := testInfo("", "")
	n := r.Restore([]Record{
		{Device: &good, Kind: devinfo.KindSwitch},
		{Device: nil, Kind: devinfo.KindSwitch},
		{Device: &other, Kind: devinfo.KindUnknown},
		{Device: &other, Kind: devinfo.Kind("Toaster")},
		{Device: &noMAC, Kind: devinfo.KindSwitch},
		{Device: &good, Kind: devinfo.KindSwitch},
	})
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, r.Len())

	h, ok := r.LookupMAC("AABBCCDDEEFF")
	require.True(t, ok)
	assert.Equal(t, "AABBCCDDEEFF", h.Device().MAC)
	_, ok = r.LookupMAC("AABBCCDDEE00")
	assert.False(t, ok)
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	records, err := s.Load()
	require.NoError(t, err)
	assert.Empty(t, records)

	info := testInfo("AABBCCDDEEFF", devinfo.KindSwitch)
	require.NoError(t, s.Save([]Record{{Device: &info, Kind: devinfo.KindSwitch}}))

	r := NewRegistry(func(k devinfo.Kind, i devinfo.DeviceInfo) (Handle, error) { return New(k, i, nil) }, nil, s)
	n, err := r.Load()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	h, ok := r.Lookup(IdentityFor("AABBCCDDEEFF"))
	require.True(t, ok)
	assert.Equal(t, "Kitchen", h.Device().Name)
	assert.Equal(t, devinfo.KindSwitch, h.Kind())
}

func TestUpdateInfo(t *testing.T) {
	h, err := New(devinfo.KindSwitch, testInfo("AABBCCDDEEFF", ""), nil)
	require.NoError(t, err)

	h.UpdateInfo(devinfo.DeviceInfo{MAC: "AABBCCDDEEFF", Name: devinfo.KindSwitch.Placeholder(), Address: "192.0.2.11", Firmware: "3.82.60"})
	d := h.Device()
	assert.Equal(t, "Kitchen", d.Name)
	assert.Equal(t, "192.0.2.11", d.Address)
	assert.Equal(t, "3.82.60", d.Firmware)
	assert.Equal(t, "3.82.60", h.Accessory().Info.FirmwareRevision.GetValue())

	h.UpdateInfo(devinfo.DeviceInfo{MAC: "AABBCCDDEEFF", Name: "Pantry"})
	assert.Equal(t, "Pantry", h.Device().Name)
	assert.Equal(t, "Pantry", h.Accessory().Info.Name.GetValue())

	// not ours
	h.UpdateInfo(devinfo.DeviceInfo{MAC: "001122334455", Name: "Garage"})
	assert.Equal(t, "Pantry", h.Device().Name)
}

func TestDingzEvents(t *testing.T) {
	info := testInfo("AABBCCDDEEFF", "")
	info.HWInfo = json.RawMessage(`{"type":"dingz","has_pir":true}`)
	h, err := New(devinfo.KindDingz, info, nil)
	require.NoError(t, err)
	d := h.(*Dingz)
	assert.True(t, d.HasPIR())

	require.NoError(t, h.HandleEvent(events.Event{Kind: events.DeviceAction, MAC: info.MAC, Button: "2", Action: "3"}))
	assert.Equal(t, characteristic.ProgrammableSwitchEventLongPress, d.HC.Buttons[1].ProgrammableSwitchEvent.GetValue())

	assert.Error(t, h.HandleEvent(events.Event{Kind: events.DeviceAction, MAC: info.MAC, Button: "5", Action: "1"}))
	assert.Error(t, h.HandleEvent(events.Event{Kind: events.DeviceAction, MAC: info.MAC, Button: "1", Action: "9"}))

	temp, motion := 21.5, true
	require.NoError(t, h.HandleEvent(events.Event{Kind: events.StateUpdate, MAC: info.MAC, State: &events.State{Temperature: &temp, Motion: &motion}}))
	assert.Equal(t, 21.5, d.HC.Temperature.CurrentTemperature.GetValue())
	assert.True(t, d.HC.Motion.MotionDetected.GetValue())

	assert.Error(t, h.HandleEvent(events.Event{Kind: events.InfoUpdate, MAC: info.MAC}))
}

func TestIdentifyDuringUpdates(t *testing.T) {
	log.Debug.Enable()
	defer log.Debug.Disable()

	h, err := New(devinfo.KindDingz, testInfo("AABBCCDDEEFF", devinfo.KindDingz), nil)
	require.NoError(t, err)
	d := h.(*Dingz)

	temp := 21.0
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			h.Identify()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			info := testInfo("AABBCCDDEEFF", devinfo.KindDingz)
			info.Name = fmt.Sprintf("Hall %d", i)
			info.Firmware = fmt.Sprintf("1.%d", i)
			h.UpdateInfo(info)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			assert.NoError(t, h.HandleEvent(events.Event{Kind: events.DeviceAction, MAC: "AABBCCDDEEFF", Button: "2", Action: "3"}))
			assert.NoError(t, h.HandleEvent(events.Event{Kind: events.StateUpdate, MAC: "AABBCCDDEEFF", State: &events.State{Temperature: &temp}}))
		}
	}()
	wg.Wait()

	assert.Equal(t, 50, d.Identified())
	assert.Equal(t, "Hall 49", h.Device().Name)
	assert.Equal(t, characteristic.ProgrammableSwitchEventLongPress, d.LastPress(2))
}

func TestDingzWithoutPIR(t *testing.T) {
	h, err := New(devinfo.KindDingz, testInfo("AABBCCDDEEFF", ""), nil)
	require.NoError(t, err)
	assert.False(t, h.(*Dingz).HasPIR())

	motion := true
	assert.NoError(t, h.HandleEvent(events.Event{Kind: events.StateUpdate, State: &events.State{Motion: &motion}}))
}

func TestSwitchEvents(t *testing.T) {
	h, err := New(devinfo.KindSwitch, testInfo("AABBCCDDEEFF", ""), nil)
	require.NoError(t, err)
	s := h.(*MyStromSwitch)

	on, power := true, 12.5
	require.NoError(t, h.HandleEvent(events.Event{Kind: events.StateUpdate, State: &events.State{On: &on, Power: &power}}))
	assert.True(t, s.HC.Outlet.On.GetValue())
	assert.True(t, s.HC.Outlet.OutletInUse.GetValue())

	assert.Error(t, h.HandleEvent(events.Event{Kind: events.DeviceAction, Button: "1", Action: "1"}))
}

func TestLightEvents(t *testing.T) {
	h, err := New(devinfo.KindLedStrip, testInfo("AABBCCDDEEFF", ""), nil)
	require.NoError(t, err)
	l := h.(*MyStromLight)
	require.NotNil(t, l.HC.Lightbulb.Hue)

	on, bri := true, 40
	require.NoError(t, h.HandleEvent(events.Event{Kind: events.StateUpdate, State: &events.State{On: &on, Brightness: &bri}}))
	assert.True(t, l.HC.Lightbulb.On.GetValue())
	assert.Equal(t, 40, l.HC.Lightbulb.Brightness.GetValue())
	assert.Equal(t, "action=on&mode=hsv&color=0;0;40", l.colorBody(40))

	bulb, err := New(devinfo.KindLightbulb, testInfo("AABBCCDDEE00", ""), nil)
	require.NoError(t, err)
	assert.Nil(t, bulb.(*MyStromLight).HC.Lightbulb.Hue)
}

type recordingFetcher struct {
	got chan fetch.Request
}

func (r *recordingFetcher) Fetch(ctx context.Context, req fetch.Request) (*fetch.Response, error) {
	r.got <- req
	return &fetch.Response{StatusCode: 200}, nil
}

func TestSendCarriesToken(t *testing.T) {
	rf := &recordingFetcher{got: make(chan fetch.Request, 1)}
	info := testInfo("AABBCCDDEEFF", "")
	info.Token = "secret"
	h, err := New(devinfo.KindSwitch, info, rf)
	require.NoError(t, err)

	h.(*MyStromSwitch).send("/relay?state=1", "GET", "")
	select {
	case req := <-rf.got:
		assert.Equal(t, "http://192.0.2.10/relay?state=1", req.URL)
		assert.Equal(t, "secret", req.Token)
	case <-time.After(time.Second):
		t.Fatal("nothing sent")
	}
}
