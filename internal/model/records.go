package model

import "time"

// Coordinates is a single representative GPS point.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Entry is a planting observation captured in the field.
type Entry struct {
	ID                 string      `json:"id"`
	Photos             []string    `json:"photos"`
	Coordinates        Coordinates `json:"coordinates"`
	Producer           string      `json:"producer"`
	VarietyName        string      `json:"varietyName"`
	LotNumber          string      `json:"lotNumber"`
	PlantingDate       string      `json:"plantingDate"`
	Rate               string      `json:"rate"`
	Traits             []string    `json:"traits"`
	Treatments         []string    `json:"treatments"`
	GerminationPercent string      `json:"germinationPercent"`
	Notes              string      `json:"notes"`
	FieldName          string      `json:"fieldName"`
	MapLabel           string      `json:"mapLabel"`
	EntryDate          string      `json:"entryDate,omitempty"`
	EntryTime          string      `json:"entryTime,omitempty"`
	CreatedAt          time.Time   `json:"createdAt"`
	UpdatedAt          time.Time   `json:"updatedAt"`
}

// Field is a named geographic area entries are recorded against.
type Field struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Coordinates Coordinates `json:"coordinates"`
	Acreage     string      `json:"acreage"`
	CropType    string      `json:"cropType"`
	Notes       string      `json:"notes"`
	Color       string      `json:"color"`
	CreatedAt   time.Time   `json:"createdAt"`
	UpdatedAt   time.Time   `json:"updatedAt"`
}

// InventoryItem is a stock-keeping record for one seed lot. Quantity is
// decremented exclusively through the store's Consume operation.
type InventoryItem struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"`
	Producer           string    `json:"producer"`
	VarietyName        string    `json:"varietyName"`
	LotNumber          string    `json:"lotNumber"`
	Traits             []string  `json:"traits"`
	Treatments         []string  `json:"treatments"`
	Quantity           float64   `json:"quantity"`
	Unit               string    `json:"unit"`
	SeedsPerUnit       int64     `json:"seedsPerUnit"`
	GerminationPercent string    `json:"germinationPercent"`
	PurchaseDate       string    `json:"purchaseDate"`
	ExpirationDate     string    `json:"expirationDate"`
	Notes              string    `json:"notes"`
	ImageURI           string    `json:"imageUri,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
	UpdatedAt          time.Time `json:"updatedAt"`
}

// InventoryUsage links one inventory consumption to one entry. Usage events
// are append-only: created once, never updated.
type InventoryUsage struct {
	ID              string    `json:"id"`
	InventoryItemID string    `json:"inventoryItemId"`
	EntryID         string    `json:"entryId"`
	QuantityUsed    float64   `json:"quantityUsed"`
	UsedAt          time.Time `json:"usedAt"`
}

// RecordID returns the stable identity of the entry.
func (e Entry) RecordID() string { return e.ID }

// LastModified returns the instant used for last-writer-wins comparison.
func (e Entry) LastModified() time.Time { return e.UpdatedAt }

// RecordID returns the stable identity of the field.
func (f Field) RecordID() string { return f.ID }

// LastModified returns the instant used for last-writer-wins comparison.
func (f Field) LastModified() time.Time { return f.UpdatedAt }

// RecordID returns the stable identity of the inventory item.
func (i InventoryItem) RecordID() string { return i.ID }

// LastModified returns the instant used for last-writer-wins comparison.
func (i InventoryItem) LastModified() time.Time { return i.UpdatedAt }

// RecordID returns the stable identity of the usage event.
func (u InventoryUsage) RecordID() string { return u.ID }

// LastModified returns the usage instant. Usage events are immutable, so
// this only labels the row on upload; the merge never compares it.
func (u InventoryUsage) LastModified() time.Time { return u.UsedAt }
