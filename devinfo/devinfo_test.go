package devinfo

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudkucooland/dingzfar/fetch"
)

func fakeDevice(t *testing.T, routes map[string]string) (string, *string) {
	t.Helper()
	var token string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token = r.Header.Get(fetch.TokenHeader)
		body, ok := routes[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return strings.TrimPrefix(srv.URL, "http://"), &token
}

func resolver() *Resolver {
	return NewResolver(fetch.NewClient(time.Second))
}

func TestParseType(t *testing.T) {
	tests := []struct {
		in   string
		want DeviceType
	}{
		{"106", TypeSwitchCHv2},
		{"WS2", TypeSwitchCHv2},
		{"ws2", TypeSwitchCHv2},
		{"101", TypeSwitchCHv1},
		{"WSW", TypeSwitchCHv1},
		{"WSE", TypeSwitchEU},
		{"102", TypeBulb},
		{"WRB", TypeBulb},
		{"WRS", TypeLedStrip},
		{"dingz", TypeDingz},
		{"108", TypeDingz},
		{"nonsense", TypeUnknown},
		{"-4", TypeUnknown},
		{"999", TypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseType(tt.in))
		})
	}
}

func TestDeviceTypeJSON(t *testing.T) {
	var v struct {
		Type DeviceType `json:"type"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"type":107}`), &v))
	assert.Equal(t, TypeSwitchEU, v.Type)
	require.NoError(t, json.Unmarshal([]byte(`{"type":"WSE"}`), &v))
	assert.Equal(t, TypeSwitchEU, v.Type)
	require.NoError(t, json.Unmarshal([]byte(`{"type":"107"}`), &v))
	assert.Equal(t, TypeSwitchEU, v.Type)
	assert.Error(t, json.Unmarshal([]byte(`{"type":true}`), &v))
}

func TestTypeTables(t *testing.T) {
	assert.Equal(t, FamilySwitch, TypeSwitchCHv2.Family())
	assert.Equal(t, FamilyLight, TypeLedStrip.Family())
	assert.Equal(t, FamilyButton, TypeButton.Family())
	assert.Equal(t, FamilyUnknown, DeviceType(42).Family())
	assert.Equal(t, KindSwitch, TypeSwitchEU.Kind())
	assert.Equal(t, KindLedStrip, TypeLedStrip.Kind())
	assert.Equal(t, KindUnknown, TypeButtonPlus.Kind())
	assert.Equal(t, GenericModel, DeviceType(42).Model())
	assert.True(t, TypeSwitchCHv1.Legacy())
	assert.False(t, TypeSwitchCHv2.Legacy())
	assert.Equal(t, FamilyLight, ParseFamily("LedStrip"))
	assert.Equal(t, FamilyUnknown, ParseFamily("toaster"))
	assert.Equal(t, KindDingz, ParseKind("Dingz"))
	assert.Equal(t, KindUnknown, ParseKind("Toaster"))
	assert.Equal(t, "Auto-Discovered MyStromSwitch", KindSwitch.Placeholder())
	assert.True(t, IsPlaceholder(KindDingz.Placeholder()))
	assert.False(t, IsPlaceholder("Kitchen"))
}

func TestNormalizeMAC(t *testing.T) {
	assert.Equal(t, "AABBCCDDEEFF", NormalizeMAC("aa:bb:cc:dd:ee:ff"))
	assert.Equal(t, "AABBCCDDEEFF", NormalizeMAC(" aabbccddeeff "))
	assert.Equal(t, "AABBCCDDEEFF", MACFromBytes([]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}))
	assert.Equal(t, uint64(0xAABBCCDDEEFF), DeviceInfo{MAC: "aabbccddeeff"}.SerialID())
}

func TestResolveDingz(t *testing.T) {
	addr, token := fakeDevice(t, map[string]string{
		"/api/v1/device": `{"AABBCCDDEEFF":{"type":"dingz","fw_version":"1.4.3","puck_hw_model":"DZ1B-1CH","has_pir":true}}`,
	})

	info, err := resolver().ResolveDingz(context.Background(), addr, "tok")
	require.NoError(t, err)
	assert.Equal(t, "AABBCCDDEEFF", info.MAC)
	assert.Equal(t, "DZ1B-1CH", info.Model)
	assert.Equal(t, "1.4.3", info.Firmware)
	assert.Equal(t, KindDingz, info.AccessoryKind)
	assert.Equal(t, addr, info.Address)
	assert.NotNil(t, info.LastUpdate)
	assert.Equal(t, "tok", *token)
}

func TestResolveDingzWithoutPuckModel(t *testing.T) {
	addr, _ := fakeDevice(t, map[string]string{
		"/api/v1/device": `{"aabbccddeeff":{"type":"dingz"}}`,
	})
	info, err := resolver().ResolveDingz(context.Background(), addr, "")
	require.NoError(t, err)
	assert.Equal(t, "dingz", info.Model)
	assert.Equal(t, "AABBCCDDEEFF", info.MAC)
}

func TestResolveDingzWrongType(t *testing.T) {
	addr, _ := fakeDevice(t, map[string]string{
		"/api/v1/device": `{"AABBCCDDEEFF":{"type":"myStrom"}}`,
	})
	_, err := resolver().ResolveDingz(context.Background(), addr, "")
	var ite *InvalidTypeError
	require.True(t, errors.As(err, &ite))
	assert.Equal(t, FamilyDingz, ite.Expected)
	assert.False(t, IsRetryable(err))
}

func TestResolveDingzNoData(t *testing.T) {
	for name, body := range map[string]string{
		"empty object": `{}`,
		"two devices":  `{"A":{"type":"dingz"},"B":{"type":"dingz"}}`,
		"garbage":      `<html>`,
		"no mac":       `{"":{"type":"dingz"}}`,
		"only colons":  `{"::":{"type":"dingz"}}`,
	} {
		t.Run(name, func(t *testing.T) {
			addr, _ := fakeDevice(t, map[string]string{"/api/v1/device": body})
			_, err := resolver().ResolveDingz(context.Background(), addr, "")
			var nr *DeviceNotReachableError
			require.True(t, errors.As(err, &nr), "got %v", err)
			assert.True(t, IsRetryable(err))
		})
	}
}

func TestResolveUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	_, err := resolver().ResolveMyStrom(context.Background(), addr, "", FamilySwitch, false)
	var nr *DeviceNotReachableError
	require.True(t, errors.As(err, &nr))
	var fe *fetch.FetchError
	assert.True(t, errors.As(err, &fe), "fetch error is kept as the cause")
}

func TestResolveMyStromSwitch(t *testing.T) {
	addr, token := fakeDevice(t, map[string]string{
		"/api/v1/info": `{"version":"3.82.60","mac":"aabbccddeeff","type":106,"name":"Kitchen","connected":true}`,
	})
	info, err := resolver().ResolveMyStrom(context.Background(), addr, "tok", FamilySwitch, false)
	require.NoError(t, err)
	assert.Equal(t, "AABBCCDDEEFF", info.MAC)
	assert.Equal(t, "WiFi Switch CH v2", info.Model)
	assert.Equal(t, TypeSwitchCHv2, info.Type)
	assert.Equal(t, KindSwitch, info.AccessoryKind)
	assert.Equal(t, "Kitchen", info.Name)
	assert.Equal(t, "tok", info.Token)
	assert.Equal(t, "tok", *token)
}

func TestResolveMyStromLegacy(t *testing.T) {
	addr, token := fakeDevice(t, map[string]string{
		"/info": `{"version":"2.59","mac":"AA:BB:CC:DD:EE:01","type":"WSW"}`,
	})
	info, err := resolver().ResolveMyStrom(context.Background(), addr, "tok", FamilySwitch, true)
	require.NoError(t, err)
	assert.Equal(t, TypeSwitchCHv1, info.Type)
	assert.Equal(t, "AABBCCDDEE01", info.MAC)
	assert.Equal(t, "", *token, "legacy endpoint is called without a token")
	assert.Equal(t, "tok", info.Token)
}

func TestResolveMyStromFamilyMismatch(t *testing.T) {
	addr, _ := fakeDevice(t, map[string]string{
		"/api/v1/info": `{"mac":"AABBCCDDEEFF","type":107}`,
	})
	_, err := resolver().ResolveMyStrom(context.Background(), addr, "", FamilyLight, false)
	var ite *InvalidTypeError
	require.True(t, errors.As(err, &ite))
	assert.Equal(t, "107", ite.Observed)
	assert.Equal(t, FamilyLight, ite.Expected)
}

func TestResolveMyStromFirmwareString(t *testing.T) {
	addr, _ := fakeDevice(t, map[string]string{
		"/api/v1/info": `{"mac":"AABBCCDDEEFF","type":"WRS"}`,
	})
	info, err := resolver().ResolveMyStrom(context.Background(), addr, "", FamilyLight, false)
	require.NoError(t, err)
	assert.Equal(t, KindLedStrip, info.AccessoryKind)
	assert.Equal(t, "WiFi LED Strip", info.Model)
}

func TestResolveMyStromGenericModel(t *testing.T) {
	addr, _ := fakeDevice(t, map[string]string{
		"/api/v1/info": `{"mac":"AABBCCDDEEFF","type":113}`,
	})
	info, err := resolver().ResolveMyStrom(context.Background(), addr, "", FamilySwitch, false)
	require.NoError(t, err)
	assert.Equal(t, GenericModel, info.Model)
	assert.Equal(t, KindSwitch, info.AccessoryKind)
}
