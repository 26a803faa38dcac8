// Package hub implements the remote side of farm sync: the shared farm
// data table, farm identity and membership rows, and the HTTP API the
// agents bind to.
package hub

import "time"

// FarmRow is a named shared workspace, the unit of sync scope.
type FarmRow struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	Name      string    `gorm:"column:name;size:320;not null"`
	Password  string    `gorm:"column:password;size:190"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName provides the explicit table binding for GORM.
func (FarmRow) TableName() string {
	return "farms"
}

// MemberRow maps one device to one farm. A device appears at most once per
// farm; re-joining refreshes the row in place.
type MemberRow struct {
	MemberID string    `gorm:"column:member_id;primaryKey;size:190;not null"`
	FarmID   string    `gorm:"column:farm_id;size:190;not null;uniqueIndex:idx_members_farm_device,priority:1"`
	DeviceID string    `gorm:"column:device_id;size:190;not null;uniqueIndex:idx_members_farm_device,priority:2"`
	UserName string    `gorm:"column:user_name;size:320;not null"`
	IsAdmin  bool      `gorm:"column:is_admin;not null;default:false"`
	JoinedAt time.Time `gorm:"column:joined_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (MemberRow) TableName() string {
	return "farm_members"
}

// DataRow stores one record of any kind in the uniform row shape, keyed by
// the composite (id, farm_id) the upsert conflicts on.
type DataRow struct {
	ID        string    `gorm:"column:id;primaryKey;size:190;not null"`
	FarmID    string    `gorm:"column:farm_id;primaryKey;size:190;not null;index:idx_farm_data_farm_type,priority:1"`
	DataType  string    `gorm:"column:data_type;size:32;not null;index:idx_farm_data_farm_type,priority:2"`
	Data      string    `gorm:"column:data;type:text;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (DataRow) TableName() string {
	return "farm_data"
}
