package main

import (
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/spoolsync/spoolsync/cmd/spoolsync/shared"
	"github.com/united-manufacturing-hub/umh-utils/env"
	"go.uber.org/zap"
)

var mqttClient MQTT.Client
var mqttTopic string

// Prometheus metrics
var (
	mqttEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "spoolsync_mqtt_events_total",
			Help: "The total number of tag events announced over MQTT",
		},
	)
	mqttConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "spoolsync_mqtt_up",
			Help: "Connection with MQTT broker",
		},
	)
)

// TagEventMessage announces a tag arrival or removal, e.g. for home
// automation dashboards. Absent ids are omitted.
type TagEventMessage struct {
	TimestampMs int64 `json:"timestamp_ms"`
	Present     bool  `json:"present"`
	SpoolID     *int  `json:"spool_id,omitempty"`
	FilamentID  *int  `json:"filament_id,omitempty"`
}

// onConnect outputs info message
func onConnect(c MQTT.Client) {
	optionsReader := c.OptionsReader()
	zap.S().Infof("Connected to MQTT broker (%s)", optionsReader.ClientID())
	mqttConnected.Set(1)
}

// onConnectionLost outputs warn message
func onConnectionLost(c MQTT.Client, err error) {
	zap.S().Warnf("Connection to MQTT broker lost: %s", err)
	mqttConnected.Set(0)
}

// SetupMQTT connects to the broker named in MQTT_BROKER_URL. Announcements
// stay disabled when the variable is unset, MQTT is strictly optional here.
func SetupMQTT() {
	brokerURL, _ := env.GetAsString("MQTT_BROKER_URL", false, "")
	if brokerURL == "" {
		zap.S().Debugf("MQTT_BROKER_URL not set, not announcing tag events")
		return
	}
	clientID, _ := env.GetAsString("MQTT_CLIENT_ID", false, "spoolsync")
	password, _ := env.GetAsString("MQTT_PASSWORD", false, "")
	mqttTopic, _ = env.GetAsString("MQTT_TOPIC", false, "spoolsync/tag")

	opts := MQTT.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(clientID)
	if password != "" {
		opts.SetUsername(clientID)
		opts.SetPassword(password)
	}
	opts.SetAutoReconnect(true)
	opts.SetOnConnectHandler(onConnect)
	opts.SetConnectionLostHandler(onConnectionLost)

	zap.S().Debugf("MQTT broker configured (%s)", brokerURL)

	mqttClient = MQTT.NewClient(opts)
	if token := mqttClient.Connect(); token.Wait() && token.Error() != nil {
		zap.S().Fatalf("Failed to connect to MQTT broker: %s", token.Error())
	}
}

func announceTagPresent(rec shared.TagRecord) {
	announce(TagEventMessage{
		TimestampMs: time.Now().UnixMilli(),
		Present:     true,
		SpoolID:     rec.SpoolID,
		FilamentID:  rec.FilamentID,
	})
}

func announceTagAbsent() {
	announce(TagEventMessage{
		TimestampMs: time.Now().UnixMilli(),
		Present:     false,
	})
}

func announce(message TagEventMessage) {
	if mqttClient == nil {
		return
	}
	payload, err := jsoniter.Marshal(message)
	if err != nil {
		zap.S().Warnf("Error marshalling tag event: %s", err)
		return
	}
	// retained, so late subscribers see the current tag state
	mqttClient.Publish(mqttTopic, 0, true, payload)
	mqttEventsTotal.Inc()
}
