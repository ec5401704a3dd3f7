// Package sensor turns automated infrastructure alerts arriving over MQTT
// into reports. Smart lamps, drain sensors and road monitors publish to
// civicplus/sensors/{sensorID}/alert; each alert becomes a report owned by
// the configured system account, so it clusters and cascades like any
// citizen submission.
package sensor

import (
	"context"
	"encoding/json"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/civicplus/civicplus-backend/internal/report"
)

// Alert is the payload a sensor publishes
type Alert struct {
	Sensor      string  `json:"sensor"`
	Category    string  `json:"category"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Latitude    float64 `json:"latitude"`
	Longitude   float64 `json:"longitude"`
}

// ReportCreator is the slice of the report service the ingestor needs
type ReportCreator interface {
	Create(ctx context.Context, reporterID string, req *report.CreateReportRequest) (*report.Report, error)
}

// Ingestor subscribes to sensor alerts and files reports for them
type Ingestor struct {
	client       mqtt.Client
	topic        string
	sensorUserID string
	reports      ReportCreator
	logger       *zap.Logger
}

// Config holds the MQTT connection settings for the ingestor
type Config struct {
	Broker       string
	Topic        string
	ClientID     string
	SensorUserID string
}

// NewIngestor connects to the broker and returns an ingestor ready to start
func NewIngestor(cfg Config, reports ReportCreator, logger *zap.Logger) (*Ingestor, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	return &Ingestor{
		client:       client,
		topic:        cfg.Topic,
		sensorUserID: cfg.SensorUserID,
		reports:      reports,
		logger:       logger,
	}, nil
}

// Start subscribes to the alert topic. Handler errors are logged, never
// fatal: one malformed alert must not stop the feed.
func (i *Ingestor) Start(ctx context.Context) error {
	token := i.client.Subscribe(i.topic, 1, func(_ mqtt.Client, msg mqtt.Message) {
		if err := i.handle(ctx, msg.Topic(), msg.Payload()); err != nil {
			i.logger.Warn("sensor alert discarded",
				zap.String("topic", msg.Topic()), zap.Error(err))
		}
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", i.topic, token.Error())
	}

	i.logger.Info("sensor ingestor started", zap.String("topic", i.topic))
	return nil
}

// Stop disconnects from the broker
func (i *Ingestor) Stop() {
	i.client.Disconnect(250)
}

func (i *Ingestor) handle(ctx context.Context, topic string, payload []byte) error {
	var alert Alert
	if err := json.Unmarshal(payload, &alert); err != nil {
		return fmt.Errorf("malformed alert payload: %w", err)
	}

	req, err := alert.toRequest()
	if err != nil {
		return err
	}

	rp, err := i.reports.Create(ctx, i.sensorUserID, req)
	if err != nil {
		return fmt.Errorf("failed to file sensor report: %w", err)
	}

	i.logger.Info("sensor report filed",
		zap.String("report_id", rp.ID),
		zap.String("sensor", alert.Sensor),
		zap.String("category", string(rp.Category)))
	return nil
}

// toRequest validates the alert and shapes it as a report submission
func (a *Alert) toRequest() (*report.CreateReportRequest, error) {
	category := report.Category(a.Category)
	if !category.Valid() {
		return nil, fmt.Errorf("unknown sensor category %q", a.Category)
	}
	if a.Sensor == "" {
		return nil, fmt.Errorf("alert missing sensor id")
	}

	title := a.Title
	if title == "" {
		title = fmt.Sprintf("[Sensor] %s auto alert", a.Sensor)
	}
	description := a.Description
	if description == "" {
		description = "Automated infrastructure alert"
	}

	return &report.CreateReportRequest{
		Title:       title,
		Description: description,
		Category:    category,
		Latitude:    a.Latitude,
		Longitude:   a.Longitude,
	}, nil
}
