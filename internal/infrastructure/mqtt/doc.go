// Package mqtt provides MQTT client connectivity for Gray Logic Live.
//
// This package manages:
//   - Connection to an MQTT broker (Mosquitto in a standard install)
//   - Topic subscriptions with wildcard support and panic-safe handlers
//   - Connection state tracking with a disconnect callback
//
// # Architecture
//
// Protocol bridges (KNX, DALI, Modbus) publish retained device state to
// graylogic/state/{protocol}/{address}. The mqtt state adapter uses this
// client to read those topics and turn them into signals.
//
//	Protocol Bridges → MQTT Broker → mqttstate adapter → Signal Store
//
// A Client never reconnects by itself. Reconnection is left to the adapter
// manager, which dials a new session and resyncs the full retained snapshot.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, mqtt.Options{
//	    BrokerURL: "tcp://127.0.0.1:1883",
//	    ClientID:  "graylive-bridges",
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.AllStateTopics, 1,
//	    func(topic string, payload []byte, retained bool) error {
//	        return nil
//	    })
package mqtt
