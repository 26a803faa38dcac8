package hub

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/farmseedhq/farmseed/internal/identity"
	"github.com/farmseedhq/farmseed/internal/model"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")

	// ErrFarmExists indicates a create collided with an existing farm id.
	ErrFarmExists = errors.New("hub: farm already exists")
	// ErrFarmNotFound indicates the requested farm id does not exist.
	ErrFarmNotFound = errors.New("hub: farm not found")
)

// ServiceConfig describes the dependencies of the hub service.
type ServiceConfig struct {
	Database *gorm.DB
	Clock    func() time.Time
	IDs      identity.Provider
	Logger   *zap.Logger
}

// Service owns the hub's relational state: farms, members and the shared
// data table.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	ids    identity.Provider
	logger *zap.Logger
}

// NewService validates dependencies and returns the hub service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, errMissingDatabase
	}
	if cfg.IDs == nil {
		return nil, errMissingIDProvider
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{db: cfg.Database, clock: clock, ids: cfg.IDs, logger: logger}, nil
}

// UpsertRows writes a batch idempotently. On an (id, farm_id) conflict the
// incoming row wins only when its timestamp is greater-than-or-equal to the
// stored one, so a device uploading a stale snapshot cannot clobber a newer
// copy another device already pushed.
func (s *Service) UpsertRows(ctx context.Context, rows []model.Row) error {
	if len(rows) == 0 {
		return nil
	}
	stored := make([]DataRow, 0, len(rows))
	for _, row := range rows {
		if _, err := model.ParseDataType(string(row.DataType)); err != nil {
			return err
		}
		stored = append(stored, DataRow{
			ID:        row.ID,
			FarmID:    row.FarmID,
			DataType:  string(row.DataType),
			Data:      string(row.Data),
			UpdatedAt: row.UpdatedAt.UTC(),
		})
	}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}, {Name: "farm_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"data_type", "data", "updated_at"}),
		Where: clause.Where{Exprs: []clause.Expression{
			clause.Expr{SQL: "excluded.updated_at >= farm_data.updated_at"},
		}},
	}).Create(&stored).Error
}

// RowsForFarm returns the full snapshot for one farm. There is no
// incremental query; agents pull everything and merge locally.
func (s *Service) RowsForFarm(ctx context.Context, farmID string) ([]model.Row, error) {
	var stored []DataRow
	if err := s.db.WithContext(ctx).
		Where("farm_id = ?", farmID).
		Find(&stored).Error; err != nil {
		return nil, err
	}
	rows := make([]model.Row, 0, len(stored))
	for _, record := range stored {
		rows = append(rows, model.Row{
			ID:        record.ID,
			FarmID:    record.FarmID,
			DataType:  model.DataType(record.DataType),
			Data:      []byte(record.Data),
			UpdatedAt: record.UpdatedAt,
		})
	}
	return rows, nil
}

// DeleteRow removes one row. Deleting an absent row is not an error so
// tombstone drains stay idempotent.
func (s *Service) DeleteRow(ctx context.Context, id, farmID string) error {
	return s.db.WithContext(ctx).
		Where("id = ? AND farm_id = ?", id, farmID).
		Delete(&DataRow{}).Error
}

// DeleteRowsByType removes every row of one kind for a farm.
func (s *Service) DeleteRowsByType(ctx context.Context, farmID string, dataType model.DataType) error {
	return s.db.WithContext(ctx).
		Where("farm_id = ? AND data_type = ?", farmID, string(dataType)).
		Delete(&DataRow{}).Error
}

// CreateFarm registers a farm id. Taken ids return ErrFarmExists.
func (s *Service) CreateFarm(ctx context.Context, id, name, password string) error {
	var existing FarmRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&existing).Error
	if err == nil {
		return fmt.Errorf("%w: %s", ErrFarmExists, id)
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}
	farm := FarmRow{ID: id, Name: name, Password: password}
	if err := s.db.WithContext(ctx).Create(&farm).Error; err != nil {
		return err
	}
	s.logger.Info("farm created", zap.String("farm_id", id))
	return nil
}

// GetFarm fetches one farm row; unknown ids return ErrFarmNotFound.
func (s *Service) GetFarm(ctx context.Context, id string) (FarmRow, error) {
	var farm FarmRow
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&farm).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return FarmRow{}, fmt.Errorf("%w: %s", ErrFarmNotFound, id)
	}
	if err != nil {
		return FarmRow{}, err
	}
	return farm, nil
}

// DeleteFarm removes the farm with everything keyed to it: members and
// data rows included.
func (s *Service) DeleteFarm(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("farm_id = ?", id).Delete(&DataRow{}).Error; err != nil {
			return err
		}
		if err := tx.Where("farm_id = ?", id).Delete(&MemberRow{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&FarmRow{}).Error
	})
}

// UpsertMember enrolls a device into a farm, refreshing the existing row
// when the device already joined. The farm must exist.
func (s *Service) UpsertMember(ctx context.Context, farmID, deviceID, userName string, isAdmin bool) (MemberRow, error) {
	if _, err := s.GetFarm(ctx, farmID); err != nil {
		return MemberRow{}, err
	}

	var member MemberRow
	err := s.db.WithContext(ctx).
		Where("farm_id = ? AND device_id = ?", farmID, deviceID).
		Take(&member).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		memberID, idErr := s.ids.NewID()
		if idErr != nil {
			return MemberRow{}, idErr
		}
		member = MemberRow{
			MemberID: memberID,
			FarmID:   farmID,
			DeviceID: deviceID,
			UserName: userName,
			IsAdmin:  isAdmin,
			JoinedAt: s.clock().UTC(),
		}
		if err := s.db.WithContext(ctx).Create(&member).Error; err != nil {
			return MemberRow{}, err
		}
		return member, nil
	}
	if err != nil {
		return MemberRow{}, err
	}

	member.UserName = userName
	member.IsAdmin = isAdmin
	if err := s.db.WithContext(ctx).Save(&member).Error; err != nil {
		return MemberRow{}, err
	}
	return member, nil
}

// ListMembers returns a farm's membership rows ordered by join time.
func (s *Service) ListMembers(ctx context.Context, farmID string) ([]MemberRow, error) {
	var members []MemberRow
	if err := s.db.WithContext(ctx).
		Where("farm_id = ?", farmID).
		Order("joined_at ASC").
		Find(&members).Error; err != nil {
		return nil, err
	}
	return members, nil
}

// UpdateMemberName renames one device's membership row.
func (s *Service) UpdateMemberName(ctx context.Context, farmID, deviceID, userName string) error {
	return s.db.WithContext(ctx).
		Model(&MemberRow{}).
		Where("farm_id = ? AND device_id = ?", farmID, deviceID).
		Update("user_name", userName).Error
}

// DeleteMember removes one membership row by member id. Removing an absent
// row is not an error.
func (s *Service) DeleteMember(ctx context.Context, memberID string) error {
	return s.db.WithContext(ctx).
		Where("member_id = ?", memberID).
		Delete(&MemberRow{}).Error
}
