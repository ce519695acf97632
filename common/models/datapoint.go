// Package models holds the records that flow from the ingress gateway through
// the queue into the relational store.
package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DataPoint is a raw ingested record before transformation.
type DataPoint struct {
	UUID       string                 `json:"uuid"`
	UnixTS     int64                  `json:"unix_ts"`
	ISOTS      string                 `json:"iso_ts"`
	Collector  string                 `json:"collector"`
	SourceType string                 `json:"source_type"`
	DataJSON   map[string]interface{} `json:"data_json"`
}

// ProcessedRecord is the transformed output of a DataPoint. Identity and
// provenance fields are copied from the source; only DataJSON differs.
type ProcessedRecord DataPoint

// NewDataPoint stamps a fresh id and both timestamps from the same instant.
func NewDataPoint(collector, sourceType string, payload map[string]interface{}) *DataPoint {
	return newDataPointAt(time.Now().UTC(), collector, sourceType, payload)
}

func newDataPointAt(now time.Time, collector, sourceType string, payload map[string]interface{}) *DataPoint {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &DataPoint{
		UUID:       uuid.NewString(),
		UnixTS:     now.Unix(),
		ISOTS:      now.Format(time.RFC3339Nano),
		Collector:  collector,
		SourceType: sourceType,
		DataJSON:   payload,
	}
}

// Derive builds the ProcessedRecord for this DataPoint carrying payload.
func (d *DataPoint) Derive(payload map[string]interface{}) *ProcessedRecord {
	if payload == nil {
		payload = map[string]interface{}{}
	}
	return &ProcessedRecord{
		UUID:       d.UUID,
		UnixTS:     d.UnixTS,
		ISOTS:      d.ISOTS,
		Collector:  d.Collector,
		SourceType: d.SourceType,
		DataJSON:   payload,
	}
}

// Marshal serializes the DataPoint into its queue form.
func (d *DataPoint) Marshal() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", fmt.Errorf("marshal data point: %w", err)
	}
	return string(data), nil
}

// UnmarshalDataPoint decodes a queue message. A missing or null data_json is
// normalized to an empty object. Numbers in data_json are kept as
// json.Number so integers beyond float64 precision survive re-encoding.
func UnmarshalDataPoint(message string) (*DataPoint, error) {
	var d DataPoint
	dec := json.NewDecoder(strings.NewReader(message))
	dec.UseNumber()
	if err := dec.Decode(&d); err != nil {
		return nil, fmt.Errorf("unmarshal data point: %w", err)
	}
	if err := dec.Decode(&json.RawMessage{}); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("unmarshal data point: unexpected trailing data")
	}
	if d.DataJSON == nil {
		d.DataJSON = map[string]interface{}{}
	}
	return &d, nil
}
