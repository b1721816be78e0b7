package accessory

import (
	"github.com/google/uuid"

	"github.com/cloudkucooland/dingzfar/devinfo"
)

// namespace for the SHA-1 derivation, fixed forever: changing it re-keys every accessory
var namespace = uuid.MustParse("6d2b0a3e-5a4f-4c1e-9e7b-64696e677a66")

// Identity is the registry key for a device
type Identity string

// IdentityFor derives the identity from the MAC alone; case and separators do not matter
func IdentityFor(mac string) Identity {
	return Identity(uuid.NewSHA1(namespace, []byte(devinfo.NormalizeMAC(mac))).String())
}

func (i Identity) String() string {
	return string(i)
}
