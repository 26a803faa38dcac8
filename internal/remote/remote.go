// Package remote defines the contracts for the two hub-side collaborators,
// the Remote Data Service and the Farm Membership Service, plus the HTTP
// binding the agent uses to reach them.
package remote

import (
	"context"
	"errors"
	"time"

	"github.com/farmseedhq/farmseed/internal/model"
)

var (
	// ErrFarmNotFound indicates the requested farm id does not exist.
	ErrFarmNotFound = errors.New("remote: farm not found")
	// ErrFarmExists indicates a create collided with an existing farm id.
	ErrFarmExists = errors.New("remote: farm already exists")
	// ErrUnauthorized indicates the device token was missing or rejected.
	ErrUnauthorized = errors.New("remote: unauthorized")
)

// Farm is the membership service's farm row. Password is empty for open
// farms; the agent compares it during join.
type Farm struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Password string `json:"password,omitempty"`
}

// Member is one device's membership row within a farm.
type Member struct {
	MemberID string    `json:"member_id"`
	FarmID   string    `json:"farm_id"`
	DeviceID string    `json:"device_id"`
	UserName string    `json:"user_name"`
	IsAdmin  bool      `json:"is_admin"`
	JoinedAt time.Time `json:"joined_at"`
}

// DataService is the abstract upsert/query/delete API over the shared farm
// data table, keyed by the composite (record id, farm id).
type DataService interface {
	// Upsert writes rows idempotently, overwriting remote content for each
	// (id, farm_id) pair unconditionally.
	Upsert(ctx context.Context, rows []model.Row) error
	// SelectAll returns the full row snapshot for a farm.
	SelectAll(ctx context.Context, farmID string) ([]model.Row, error)
	// Delete removes a single row.
	Delete(ctx context.Context, id, farmID string) error
	// DeleteByType removes every row of one kind for a farm.
	DeleteByType(ctx context.Context, farmID string, dataType model.DataType) error
}

// MembershipService manages farm identity, membership rows and admin flags.
type MembershipService interface {
	CreateFarm(ctx context.Context, farm Farm) error
	GetFarm(ctx context.Context, id string) (Farm, error)
	UpsertMember(ctx context.Context, member Member) (Member, error)
	ListMembers(ctx context.Context, farmID string) ([]Member, error)
	UpdateMemberName(ctx context.Context, farmID, deviceID, userName string) error
	DeleteMember(ctx context.Context, memberID string) error
	DeleteFarm(ctx context.Context, id string) error
}
