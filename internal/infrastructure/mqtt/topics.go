package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes.
//
//	playsem/command/{kind}/{device_id}   core -> device (or BLE gateway)
//	playsem/ack/{kind}/{device_id}       device -> core
//	playsem/effects/{source}             producer -> core (canonical effect JSON)
//	playsem/effects/rejected             core -> producer (validation failures)
//	playsem/control                      timeline control (play|pause|stop|seek)
//	playsem/system/status                retained core online/offline status
const (
	TopicPrefix       = "playsem"
	TopicPrefixSystem = "playsem/system"
)

// Topics provides builders for PlaySEM MQTT topics.
type Topics struct{}

// EffectCommand returns the command topic for one device.
//
// Example: playsem/command/light/strip-1
func (Topics) EffectCommand(kind, deviceID string) string {
	return fmt.Sprintf("%s/command/%s/%s", TopicPrefix, kind, deviceID)
}

// GatewayCommand returns the command topic for a Bluetooth gateway, which
// fans commands out to the devices it is paired with.
//
// Example: playsem/command/bluetooth/gw-1
func (t Topics) GatewayCommand(gatewayID string) string {
	return t.EffectCommand("bluetooth", gatewayID)
}

// EffectAck returns the acknowledgement topic for one device.
//
// Example: playsem/ack/light/strip-1
func (Topics) EffectAck(kind, deviceID string) string {
	return fmt.Sprintf("%s/ack/%s/%s", TopicPrefix, kind, deviceID)
}

// EffectIngress returns the topic a producer publishes effects on.
//
// Example: playsem/effects/video-player
func (Topics) EffectIngress(source string) string {
	return fmt.Sprintf("%s/effects/%s", TopicPrefix, source)
}

// AllEffectIngress matches every producer's effect topic.
//
// Pattern: playsem/effects/+
func (Topics) AllEffectIngress() string {
	return fmt.Sprintf("%s/effects/+", TopicPrefix)
}

// EffectsRejected is where validation failures of MQTT-ingested effects go.
func (Topics) EffectsRejected() string {
	return fmt.Sprintf("%s/effects/rejected", TopicPrefix)
}

// Control carries timeline control messages.
func (Topics) Control() string {
	return fmt.Sprintf("%s/control", TopicPrefix)
}

// SystemStatus is the retained online/offline status topic.
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllTopics matches every PlaySEM topic.
func (Topics) AllTopics() string {
	return TopicPrefix + "/#"
}

// SourceFromIngressTopic extracts {source} from playsem/effects/{source}.
// It returns false for any other topic, including the rejected topic.
func SourceFromIngressTopic(topic string) (string, bool) {
	rest, ok := strings.CutPrefix(topic, TopicPrefix+"/effects/")
	if !ok || rest == "" || rest == "rejected" || strings.Contains(rest, "/") {
		return "", false
	}
	return rest, true
}
