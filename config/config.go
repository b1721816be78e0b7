package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"path/filepath"
	"strings"
	"time"

	"github.com/brutella/hc"
	"gopkg.in/yaml.v3"

	"github.com/cloudkucooland/dingzfar/devinfo"
)

// Config is the primary daemon configuration...
type Config struct {
	ConfigDir  string `json:"-" yaml:"-"` // passed in from CLI
	ConfigFile string `json:"-" yaml:"-"` // server.json

	Name     string    `json:"name" yaml:"name"`         // what this bridge shows as
	HCConfig hc.Config `json:"hcConfig" yaml:"hcConfig"` // base HomeControl configuration

	Devices      []DeviceConfig `json:"devices" yaml:"devices"`
	GlobalToken  string         `json:"globalToken" yaml:"globalToken"`   // used by devices without a token of their own
	AutoDiscover bool           `json:"autoDiscover" yaml:"autoDiscover"` // listen for broadcasts for ten minutes after startup

	DiscoveryPort int    `json:"discoveryPort" yaml:"discoveryPort"`
	CallbackPort  int    `json:"callbackPort" yaml:"callbackPort"`
	CallbackHost  string `json:"callbackHost" yaml:"callbackHost"` // address the dingz can reach us on; empty leaves their action targets alone

	MotionPoll   bool   `json:"motionPoll" yaml:"motionPoll"`
	PullRate     int    `json:"pullRate" yaml:"pullRate"`         // (seconds) default 30, negative to disable pulling
	FetchTimeout int    `json:"fetchTimeout" yaml:"fetchTimeout"` // (seconds) per device request
	StorageDir   string `json:"storageDir" yaml:"storageDir"`     // registered accessories, relative to ConfigDir

	MetricsAddress string     `json:"metricsAddress" yaml:"metricsAddress"` // net.Listen format, empty to disable
	MQTT           MQTTConfig `json:"mqtt" yaml:"mqtt"`
}

// DeviceConfig is one statically configured device
type DeviceConfig struct {
	Address string `json:"address" yaml:"address"`
	Name    string `json:"name" yaml:"name"`
	Token   string `json:"token" yaml:"token"`
	Type    string `json:"type" yaml:"type"` // dingz, switch, bulb, ledstrip
}

// Family is the parsed Type
func (d DeviceConfig) Family() devinfo.Family {
	return devinfo.ParseFamily(d.Type)
}

// MQTTConfig enables forwarding bus events when Broker is set
type MQTTConfig struct {
	Broker      string `json:"broker" yaml:"broker"` // tcp://host:1883
	ClientID    string `json:"clientID" yaml:"clientID"`
	TopicPrefix string `json:"topicPrefix" yaml:"topicPrefix"`
	Username    string `json:"username" yaml:"username"`
	Password    string `json:"password" yaml:"password"`
}

const (
	defaultName          = "dingzfar"
	defaultDiscoveryPort = 7979
	defaultCallbackPort  = 18081
	defaultPullRate      = 30
	defaultFetchTimeout  = 10
	defaultStorageDir    = "cache"
	defaultTopicPrefix   = "dingzfar"
)

// Load reads path: YAML for .yaml and .yml, JSON for everything else. Defaults are applied.
func Load(path string) (*Config, error) {
	raw, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var c Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(raw, &c)
	default:
		err = json.Unmarshal(raw, &c)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	c.ConfigFile = abs
	c.ConfigDir = filepath.Dir(abs)
	c.Defaults()
	return &c, nil
}

// Defaults fills unset values
func (c *Config) Defaults() {
	if c.Name == "" {
		c.Name = defaultName
	}
	if c.DiscoveryPort == 0 {
		c.DiscoveryPort = defaultDiscoveryPort
	}
	if c.CallbackPort == 0 {
		c.CallbackPort = defaultCallbackPort
	}
	if c.PullRate == 0 {
		c.PullRate = defaultPullRate
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = defaultFetchTimeout
	}
	if c.StorageDir == "" {
		c.StorageDir = defaultStorageDir
	}
	if c.MQTT.TopicPrefix == "" {
		c.MQTT.TopicPrefix = defaultTopicPrefix
	}
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = c.Name
	}
}

// Validate reports every device that could never be registered
func (c *Config) Validate() error {
	var problems []string
	for i, d := range c.Devices {
		if d.Address == "" {
			problems = append(problems, fmt.Sprintf("device %d [%s]: no address", i, d.Name))
		}
		switch d.Family() {
		case devinfo.FamilyDingz, devinfo.FamilySwitch, devinfo.FamilyLight:
		default:
			problems = append(problems, fmt.Sprintf("device %d [%s]: unsupported type %q", i, d.Name, d.Type))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// PullInterval is PullRate as a duration; 0 means no polling
func (c *Config) PullInterval() time.Duration {
	if c.PullRate < 0 {
		return 0
	}
	return time.Duration(c.PullRate) * time.Second
}

// FetchTimeoutDuration is FetchTimeout as a duration
func (c *Config) FetchTimeoutDuration() time.Duration {
	return time.Duration(c.FetchTimeout) * time.Second
}

// CallbackURL is what the dingz are told to call on a button action, empty without CallbackHost
func (c *Config) CallbackURL() string {
	if c.CallbackHost == "" {
		return ""
	}
	return fmt.Sprintf("get://%s:%d", c.CallbackHost, c.CallbackPort)
}

// StoragePath resolves StorageDir against ConfigDir
func (c *Config) StoragePath() string {
	if filepath.IsAbs(c.StorageDir) || c.ConfigDir == "" {
		return c.StorageDir
	}
	return filepath.Join(c.ConfigDir, c.StorageDir)
}
