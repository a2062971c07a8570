package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"lizi/internal/config"
)

const (
	mqttConnectTimeout   = 30 * time.Second
	mqttSubscribeTimeout = 10 * time.Second
	mqttQoS              = 1
)

func RunMQTT(ctx context.Context, cfg config.MQTTConfig, sink *Sink, logger *slog.Logger) error {
	if logger != nil {
		logger.Info("mqtt ingest enabled", "broker", cfg.Broker, "topic", cfg.Topic)
	}

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		if err := sink.Accept(ctx, "mqtt", msg.Payload()); err != nil && logger != nil {
			logger.Warn("mqtt review dropped", "topic", msg.Topic(), "err", err)
		}
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		token := c.Subscribe(cfg.Topic, mqttQoS, handler)
		if !token.WaitTimeout(mqttSubscribeTimeout) {
			if logger != nil {
				logger.Error("mqtt subscribe timeout", "topic", cfg.Topic)
			}
			return
		}
		if err := token.Error(); err != nil {
			if logger != nil {
				logger.Error("mqtt subscribe failed", "topic", cfg.Topic, "err", err)
			}
			return
		}
		if logger != nil {
			logger.Info("connected to mqtt broker", "broker", cfg.Broker, "topic", cfg.Topic)
		}
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		if logger != nil {
			logger.Warn("mqtt connection lost", "broker", cfg.Broker, "err", err)
		}
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(mqttConnectTimeout) {
		if logger != nil {
			logger.Warn("mqtt broker not reachable yet, retrying in background", "broker", cfg.Broker)
		}
	} else if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	<-ctx.Done()
	client.Disconnect(250)
	return nil
}
