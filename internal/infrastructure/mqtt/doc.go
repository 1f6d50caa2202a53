// Package mqtt is the broker connection behind mqtt sources and mqtt
// outputs, built on paho.mqtt.golang.
//
// One Client is shared per run. Sources subscribe to measurement topics
// (wildcards allowed) and keep the latest value per topic; outputs publish
// one message per record field under Topics.RecordField. Subscriptions
// survive reconnects.
//
// The client publishes a retained StatusPayload on
// graylogger/system/status: online after each connect, offline on Close,
// and offline with reason connection_lost as its will.
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe("plant/+/temp", 1, func(topic string, payload []byte) error {
//	    return nil
//	})
//
// Credentials usually come from GRAYLOGGER_MQTT_USERNAME and
// GRAYLOGGER_MQTT_PASSWORD. Enable broker.tls for anything beyond a local
// broker.
package mqtt
