package mqtt

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/gray-logic-logger/internal/infrastructure/config"
)

const (
	connectTimeout      = 10 * time.Second
	opTimeout           = 5 * time.Second
	keepAlive           = 60 * time.Second
	disconnectQuiesceMS = 1000

	maxQoS = 2
)

// Status values published on Topics.SystemStatus.
const (
	StatusOnline  = "online"
	StatusOffline = "offline"

	reasonLost     = "connection_lost"
	reasonGraceful = "shutdown"
)

// StatusPayload is the retained JSON message on the status topic. The
// broker publishes the offline variant as the client's will.
type StatusPayload struct {
	Status   string `json:"status"`
	ClientID string `json:"client_id"`
	Reason   string `json:"reason,omitempty"`
	At       string `json:"at"`
}

func statusPayload(status, clientID, reason string) []byte {
	data, _ := json.Marshal(StatusPayload{ //nolint:errcheck // strings only
		Status:   status,
		ClientID: clientID,
		Reason:   reason,
		At:       time.Now().UTC().Format(time.RFC3339),
	})
	return data
}

func brokerURL(cfg config.MQTTConfig) string {
	scheme := "tcp"
	if cfg.Broker.TLS {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, cfg.Broker.Host, cfg.Broker.Port)
}

// clientOptions maps the mqtt config onto paho options, including the
// retained offline will.
func clientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(brokerURL(cfg)).
		SetClientID(cfg.Broker.ClientID).
		// Client tracks subscriptions itself and restores them.
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second).
		SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second).
		SetConnectTimeout(connectTimeout).
		SetKeepAlive(keepAlive).
		// A slow source handler must not hold up the others.
		SetOrderMatters(false).
		SetBinaryWill(Topics{}.SystemStatus(), statusPayload(StatusOffline, cfg.Broker.ClientID, reasonLost), 1, true)

	if cfg.Auth.Username != "" {
		opts.SetUsername(cfg.Auth.Username).SetPassword(cfg.Auth.Password)
	}
	if cfg.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}
