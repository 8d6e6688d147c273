package mqtt

import (
	"github.com/levenlabs/go-lflag"
)

// Configured registers the MQTT flags. Whether a broker is configured is only
// known once flags are parsed so callers check Enabled before running it.
func Configured(b Bridge) *Publisher {
	broker := lflag.String("mqtt-broker", "", "MQTT broker URL (e.g. tcp://localhost:1883). Empty disables MQTT")
	clientID := lflag.String("mqtt-client-id", "solarkbridge", "MQTT client id")
	username := lflag.String("mqtt-username", "", "MQTT username")
	password := lflag.String("mqtt-password", "", "MQTT password")
	baseTopic := lflag.String("mqtt-base-topic", "solark", "Base topic for state and command topics")
	discoveryPrefix := lflag.String("mqtt-discovery-prefix", "homeassistant", "Home Assistant discovery prefix")

	p := &Publisher{}
	lflag.Do(func() {
		p.init(Config{
			Broker:          *broker,
			ClientID:        *clientID,
			Username:        *username,
			Password:        *password,
			BaseTopic:       *baseTopic,
			DiscoveryPrefix: *discoveryPrefix,
		}, b)
	})
	return p
}

// Enabled reports whether a broker was configured.
func (p *Publisher) Enabled() bool {
	return p.cfg.Broker != ""
}
