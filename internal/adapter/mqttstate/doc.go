// Package mqttstate reads device state published by Gray Logic protocol
// bridges over MQTT and turns it into signals.
//
// Bridges publish retained JSON state messages on
// graylogic/state/{protocol}/{address}:
//
//	{"device_id":"light-living","timestamp":"...","protocol":"knx",
//	 "address":"1/2/3","state":{"on":true,"level":55}}
//
// Each state field becomes one signal, "<prefix>:<device_id>.<field>".
// Because the broker retains the last message per topic, a fresh
// subscription doubles as a full snapshot: FetchAll subscribes and collects
// whatever arrives during a short settle window, and the same subscription
// then feeds Events.
//
// The adapter registers itself under the type name "mqtt".
package mqttstate
