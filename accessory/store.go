package accessory

import (
	"encoding/json"
	"errors"
	"os"

	"github.com/brutella/hc/util"

	"github.com/cloudkucooland/dingzfar/devinfo"
)

// StorageKey is where the registered accessories live in the storage directory
const StorageKey = "accessories"

// Record is one persisted accessory. A nil Device or empty Kind marks a damaged entry.
type Record struct {
	Device *devinfo.DeviceInfo `json:"device"`
	Kind   devinfo.Kind        `json:"accessoryKind"`
}

// Store persists the registry between runs
type Store interface {
	Load() ([]Record, error)
	Save([]Record) error
}

// FileStore keeps the records in hc's file storage, next to its pairing data
type FileStore struct {
	storage util.Storage
}

// NewFileStore opens (creating if needed) the storage directory
func NewFileStore(dir string) (*FileStore, error) {
	s, err := util.NewFileStorage(dir)
	if err != nil {
		return nil, err
	}
	return &FileStore{storage: s}, nil
}

// Load returns nothing, and no error, on first run
func (f *FileStore) Load() ([]Record, error) {
	raw, err := f.storage.Get(StorageKey)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var records []Record
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (f *FileStore) Save(records []Record) error {
	raw, err := json.Marshal(records)
	if err != nil {
		return err
	}
	return f.storage.Set(StorageKey, raw)
}
