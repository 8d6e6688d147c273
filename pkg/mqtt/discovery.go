package mqtt

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/raterudder/solarkbridge/pkg/common"
	"github.com/raterudder/solarkbridge/pkg/types"
)

// clockPattern restricts text entities holding slot times to HH:MM.
const clockPattern = `^([01]\d|2[0-3]):[0-5]\d$`

type HADiscoveryConfig struct {
	Device            HADiscoveryDevice `json:"device"`
	StateTopic        string            `json:"state_topic"`
	CommandTopic      string            `json:"command_topic,omitempty"`
	StateClass        string            `json:"state_class,omitempty"`
	DeviceClass       string            `json:"device_class,omitempty"`
	UnitOfMeasurement string            `json:"unit_of_measurement,omitempty"`
	AvTopic           string            `json:"availability_topic,omitempty"`
	EntityCategory    string            `json:"entity_category,omitempty"`
	Name              string            `json:"name"`
	UniqueId          string            `json:"unique_id"`
	Platform          string            `json:"platform"`
	PayloadOn         string            `json:"payload_on,omitempty"`
	PayloadOff        string            `json:"payload_off,omitempty"`
	Min               *float64          `json:"min,omitempty"`
	Max               *float64          `json:"max,omitempty"`
	Step              float64           `json:"step,omitempty"`
	Mode              string            `json:"mode,omitempty"`
	Options           []string          `json:"options,omitempty"`
	Pattern           string            `json:"pattern,omitempty"`
}

type HADiscoveryDevice struct {
	Id           []string `json:"identifiers"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Version      string   `json:"sw_version,omitempty"`
	Model        string   `json:"model,omitempty"`
	Name         string   `json:"name,omitempty"`
}

// discoveryMessage is a retained config payload and the topic it goes to.
type discoveryMessage struct {
	topic  string
	config HADiscoveryConfig
}

func (p *Publisher) deviceID() string {
	return "solark_" + p.bridge.PlantID()
}

func (p *Publisher) device() HADiscoveryDevice {
	plantID := p.bridge.PlantID()
	return HADiscoveryDevice{
		Id:           []string{p.deviceID()},
		Manufacturer: "Sol-Ark",
		Version:      common.Version(),
		Model:        "Cloud Plant",
		Name:         "Sol-Ark " + plantID,
	}
}

func (p *Publisher) discoveryTopic(component, id string) string {
	return fmt.Sprintf("%s/%s/%s/%s/config", p.cfg.DiscoveryPrefix, component, p.deviceID(), id)
}

// discoveryMessages builds the config of every sensor and setting entity.
func (p *Publisher) discoveryMessages() []discoveryMessage {
	dev := p.device()
	av := p.BridgeStateTopic()
	var msgs []discoveryMessage

	for _, s := range types.Sensors {
		msgs = append(msgs, discoveryMessage{
			topic: p.discoveryTopic("sensor", s.Key),
			config: HADiscoveryConfig{
				Device:            dev,
				StateTopic:        p.SensorStateTopic(s.Key),
				StateClass:        s.StateClass,
				DeviceClass:       s.DeviceClass,
				UnitOfMeasurement: s.Unit,
				AvTopic:           av,
				Name:              s.Name,
				UniqueId:          p.deviceID() + "_" + s.Key,
				Platform:          "mqtt",
			},
		})
	}

	for _, e := range p.entities {
		component := string(e.Kind)
		cfg := HADiscoveryConfig{
			Device:            dev,
			StateTopic:        p.EntityStateTopic(e),
			CommandTopic:      p.EntityCommandTopic(e),
			UnitOfMeasurement: e.Unit,
			AvTopic:           av,
			EntityCategory:    "config",
			Name:              e.Name,
			UniqueId:          p.deviceID() + "_" + e.ID(),
			Platform:          "mqtt",
		}
		switch e.Kind {
		case types.EntityNumber:
			cfg.Min = lo.ToPtr(e.Min)
			cfg.Max = lo.ToPtr(e.Max)
			cfg.Step = e.Step
			cfg.Mode = "box"
		case types.EntitySwitch:
			cfg.PayloadOn = PayloadOn
			cfg.PayloadOff = PayloadOff
		case types.EntitySelect:
			cfg.Options = lo.Map(e.Options, func(o types.SelectOption, _ int) string {
				return o.Label
			})
		case types.EntityTime:
			cfg.Pattern = clockPattern
		}
		msgs = append(msgs, discoveryMessage{
			topic:  p.discoveryTopic(component, e.ID()),
			config: cfg,
		})
	}
	return msgs
}
