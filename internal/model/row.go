package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DataType partitions rows in the shared farm data table.
type DataType string

const (
	DataTypeEntry          DataType = "entry"
	DataTypeField          DataType = "field"
	DataTypeInventory      DataType = "inventory"
	DataTypeInventoryUsage DataType = "inventory_usage"
)

// ErrUnknownDataType indicates a row whose data_type is not one of the four
// record kinds.
var ErrUnknownDataType = errors.New("model: unknown data type")

// ParseDataType validates a raw data_type value.
func ParseDataType(raw string) (DataType, error) {
	switch DataType(strings.TrimSpace(raw)) {
	case DataTypeEntry:
		return DataTypeEntry, nil
	case DataTypeField:
		return DataTypeField, nil
	case DataTypeInventory:
		return DataTypeInventory, nil
	case DataTypeInventoryUsage:
		return DataTypeInventoryUsage, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownDataType, raw)
	}
}

// Row is the uniform shape every record kind is flattened to for transport.
// Rows are upserted keyed by the composite (id, farm_id).
type Row struct {
	ID        string          `json:"id"`
	FarmID    string          `json:"farm_id"`
	DataType  DataType        `json:"data_type"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// NewRow serializes one record into its transport row.
func NewRow(farmID string, dataType DataType, record interface {
	RecordID() string
	LastModified() time.Time
}) (Row, error) {
	payload, err := json.Marshal(record)
	if err != nil {
		return Row{}, err
	}
	return Row{
		ID:        record.RecordID(),
		FarmID:    farmID,
		DataType:  dataType,
		Data:      payload,
		UpdatedAt: record.LastModified().UTC(),
	}, nil
}
