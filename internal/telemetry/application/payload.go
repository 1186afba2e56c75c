package application

import (
	"bytes"
	"encoding/json"
	"time"
)

// ReadingPayload is the wire shape shared by the HTTP and MQTT transports.
type ReadingPayload struct {
	ReadingID  string         `json:"reading_id,omitempty"`
	DeviceID   string         `json:"device_id"`
	Credential string         `json:"credential"`
	Timestamp  *time.Time     `json:"timestamp,omitempty"`
	Values     map[string]any `json:"values"`
}

// DecodeReadingPayload decodes a payload keeping numbers as json.Number.
func DecodeReadingPayload(data []byte) (ReadingPayload, error) {
	var payload ReadingPayload
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&payload); err != nil {
		return ReadingPayload{}, err
	}
	return payload, nil
}

// At returns the payload timestamp or zero.
func (p ReadingPayload) At() time.Time {
	if p.Timestamp == nil {
		return time.Time{}
	}
	return p.Timestamp.UTC()
}
