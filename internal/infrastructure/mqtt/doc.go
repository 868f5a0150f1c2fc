// Package mqtt provides MQTT client connectivity for the PlaySEM core.
//
// The broker is used in both directions:
//
//	producers -> playsem/effects/{source} -> core (ingress)
//	core -> playsem/command/{kind}/{device} -> MQTT devices and BLE gateways
//
// The client reconnects automatically, replays its subscriptions, and keeps
// a retained status document on playsem/system/status (with a Last Will
// for unexpected disconnects).
//
// TLS should be enabled for any broker reachable beyond localhost
// (cfg.Broker.TLS=true).
//
// Usage:
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(mqtt.Topics{}.EffectCommand("wind", "fan-1"), cmd)
package mqtt
