// Package mqtt provides MQTT client connectivity for the Leviton bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions restored after reconnect
//   - Last Will and Testament on the bridge status topic
//
// # Topic layout
//
//	{prefix}/status                     online | offline (retained, LWT)
//	{prefix}/health                     bridge health JSON (retained)
//	{prefix}/state/{unique_id}          entity state JSON (retained)
//	{prefix}/availability/{unique_id}   online | offline (retained)
//	{prefix}/command/{unique_id}        JSON command envelope
//	{prefix}/ack/{unique_id}            command acknowledgement
//	{prefix}/{unique_id}[/{attr}]/set   plain Home Assistant payloads
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.NewTopics(cfg.Bridge.TopicPrefix))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
package mqtt
