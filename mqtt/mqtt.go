package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/brutella/hc/log"
	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/cloudkucooland/dingzfar/config"
	"github.com/cloudkucooland/dingzfar/events"
)

const connectTimeout = 10 * time.Second

// Publisher is all the forwarder needs from a broker connection
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Client is a paho connection
type Client struct {
	cli paho.Client
}

// Connect to cfg.Broker; paho reconnects on its own after that
func Connect(cfg config.MQTTConfig) (*Client, error) {
	opts := paho.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.OnConnect = func(c paho.Client) { log.Info.Printf("mqtt connected to %s", cfg.Broker) }
	opts.OnConnectionLost = func(c paho.Client, err error) { log.Info.Printf("mqtt connection lost: %s", err.Error()) }

	cli := paho.NewClient(opts)
	t := cli.Connect()
	if !t.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("mqtt: no connection to %s after %s", cfg.Broker, connectTimeout)
	}
	if err := t.Error(); err != nil {
		return nil, fmt.Errorf("mqtt: %w", err)
	}
	return &Client{cli: cli}, nil
}

func (c *Client) Publish(topic string, payload []byte) error {
	t := c.cli.Publish(topic, 0, false, payload)
	if t.Wait() && t.Error() != nil {
		return t.Error()
	}
	return nil
}

func (c *Client) Close() {
	c.cli.Disconnect(250)
}

// Forwarder republishes every bus event as JSON on <prefix>/<mac>/<kind>
type Forwarder struct {
	pub    Publisher
	prefix string
	sub    *events.Subscription
	done   chan struct{}
}

// Forward starts forwarding until Stop
func Forward(bus *events.Bus, pub Publisher, prefix string) (*Forwarder, error) {
	sub, err := bus.Subscribe()
	if err != nil {
		return nil, err
	}
	f := &Forwarder{pub: pub, prefix: prefix, sub: sub, done: make(chan struct{})}
	go f.run()
	return f, nil
}

// Topic for e
func (f *Forwarder) Topic(e events.Event) string {
	return fmt.Sprintf("%s/%s/%s", f.prefix, e.MAC, e.Kind)
}

func (f *Forwarder) run() {
	defer close(f.done)
	for e := range f.sub.C {
		payload, err := json.Marshal(e)
		if err != nil {
			log.Info.Printf("mqtt: %s", err.Error())
			continue
		}
		if err := f.pub.Publish(f.Topic(e), payload); err != nil {
			log.Debug.Printf("mqtt publish: %s", err.Error())
		}
	}
}

// Stop unsubscribes and waits for the last publish
func (f *Forwarder) Stop() {
	f.sub.Close()
	<-f.done
}
