package protocol

import (
	"encoding/json"
	"time"
)

const (
	AlertRaised  = "RAISED"
	AlertCleared = "CLEARED"
)

// AlertNotification is published on the alerts topic when the pipeline's
// telemetry raises an alert or an earlier alert clears.
type AlertNotification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Code      string    `json:"code"`
	Severity  string    `json:"severity"`
	Message   string    `json:"message"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Host      string    `json:"host"`
	RaisedAt  time.Time `json:"raised_at"`
}

// EncodeAlertNotification encodes an AlertNotification to JSON
func EncodeAlertNotification(n *AlertNotification) ([]byte, error) {
	return json.Marshal(n)
}

// DecodeAlertNotification decodes JSON to AlertNotification
func DecodeAlertNotification(data []byte) (*AlertNotification, error) {
	var n AlertNotification
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// EncodeReading encodes a reading in the inbound payload format.
func EncodeReading(r Reading) ([]byte, error) {
	return json.Marshal(r)
}
