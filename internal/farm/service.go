package farm

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/farmseedhq/farmseed/internal/engine"
	"github.com/farmseedhq/farmseed/internal/remote"
)

var (
	// ErrFarmExists rejects creating a farm whose id is already taken.
	ErrFarmExists = errors.New("farm: a farm with this id already exists")
	// ErrFarmNotFound rejects joining an unknown farm id.
	ErrFarmNotFound = errors.New("farm: farm not found, check the farm id")
	// ErrIncorrectPassword rejects joining with a wrong farm password.
	ErrIncorrectPassword = errors.New("farm: incorrect password")
	// ErrNotAdmin rejects member administration from a non-admin device.
	ErrNotAdmin = errors.New("farm: admin privileges required")
	// ErrNotConnected rejects farm operations while disconnected.
	ErrNotConnected = errors.New("farm: no farm connected")
)

// ServiceConfig describes the dependencies of the membership service.
type ServiceConfig struct {
	Session    *Session
	Membership remote.MembershipService
	Engine     *engine.Engine
	Logger     *zap.Logger
}

// Service implements the farm lifecycle: create, join, leave, member
// administration. It binds and unbinds the sync engine as the farm
// connection changes.
type Service struct {
	session    *Session
	membership remote.MembershipService
	engine     *engine.Engine
	logger     *zap.Logger
}

// NewService validates dependencies and returns the membership service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Session == nil {
		return nil, errors.New("farm: session is required")
	}
	if cfg.Membership == nil {
		return nil, errors.New("farm: membership service is required")
	}
	if cfg.Engine == nil {
		return nil, errors.New("farm: sync engine is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		session:    cfg.Session,
		membership: cfg.Membership,
		engine:     cfg.Engine,
		logger:     logger,
	}, nil
}

// CreateFarm registers a new farm, enrolls this device as its admin member
// and runs the initial sync so existing local records seed the farm.
func (s *Service) CreateFarm(ctx context.Context, rawID, name, userName, password string) error {
	farmID, err := NewFarmID(rawID)
	if err != nil {
		return err
	}

	err = s.membership.CreateFarm(ctx, remote.Farm{ID: farmID.String(), Name: name, Password: password})
	if errors.Is(err, remote.ErrFarmExists) {
		return ErrFarmExists
	}
	if err != nil {
		return fmt.Errorf("farm: create failed: %w", err)
	}

	return s.enroll(ctx, farmID.String(), name, userName, true)
}

// JoinFarm verifies the farm exists and the password matches, enrolls this
// device as a regular member and runs the initial sync so local and remote
// records converge.
func (s *Service) JoinFarm(ctx context.Context, rawID, userName, password string) error {
	farmID, err := NewFarmID(rawID)
	if err != nil {
		return err
	}

	farm, err := s.membership.GetFarm(ctx, farmID.String())
	if errors.Is(err, remote.ErrFarmNotFound) {
		return ErrFarmNotFound
	}
	if err != nil {
		return fmt.Errorf("farm: lookup failed: %w", err)
	}
	if farm.Password != "" && farm.Password != password {
		return ErrIncorrectPassword
	}

	return s.enroll(ctx, farm.ID, farm.Name, userName, false)
}

func (s *Service) enroll(ctx context.Context, farmID, farmName, userName string, isAdmin bool) error {
	_, err := s.membership.UpsertMember(ctx, remote.Member{
		FarmID:   farmID,
		DeviceID: s.session.DeviceID(),
		UserName: userName,
		IsAdmin:  isAdmin,
	})
	if err != nil {
		return fmt.Errorf("farm: member enrollment failed: %w", err)
	}

	if err := s.session.SetFarm(farmID, farmName, userName, isAdmin); err != nil {
		return fmt.Errorf("farm: persisting session failed: %w", err)
	}
	s.engine.Bind(farmID)

	if err := s.engine.SyncNow(ctx); err != nil {
		// The farm connection is established; the first sync retries on
		// the next trigger like any other sync failure.
		s.logger.Warn("initial sync failed",
			zap.String("farm_id", farmID),
			zap.Error(err))
	}

	s.logger.Info("farm connected",
		zap.String("farm_id", farmID),
		zap.Bool("is_admin", isAdmin))
	return nil
}

// LeaveFarm removes this device's membership row remotely (best effort)
// and clears all farm identity locally. Local data records are retained
// but no longer sync.
func (s *Service) LeaveFarm(ctx context.Context) error {
	farmID := s.session.FarmID()
	if farmID == "" {
		return nil
	}

	if memberID, err := s.ownMemberID(ctx, farmID); err != nil {
		s.logger.Warn("could not resolve own membership row", zap.Error(err))
	} else if memberID != "" {
		if err := s.membership.DeleteMember(ctx, memberID); err != nil {
			s.logger.Warn("could not remove own membership row", zap.Error(err))
		}
	}

	if err := s.session.ClearFarm(); err != nil {
		return fmt.Errorf("farm: clearing session failed: %w", err)
	}
	s.engine.Unbind()
	s.logger.Info("farm left", zap.String("farm_id", farmID))
	return nil
}

func (s *Service) ownMemberID(ctx context.Context, farmID string) (string, error) {
	members, err := s.membership.ListMembers(ctx, farmID)
	if err != nil {
		return "", err
	}
	deviceID := s.session.DeviceID()
	for _, member := range members {
		if member.DeviceID == deviceID {
			return member.MemberID, nil
		}
	}
	return "", nil
}

// Members lists the connected farm's membership rows ordered by join time.
func (s *Service) Members(ctx context.Context) ([]remote.Member, error) {
	farmID := s.session.FarmID()
	if farmID == "" {
		return nil, ErrNotConnected
	}
	return s.membership.ListMembers(ctx, farmID)
}

// RemoveMember deletes another device's membership row. Admin only.
func (s *Service) RemoveMember(ctx context.Context, memberID string) error {
	if s.session.FarmID() == "" {
		return ErrNotConnected
	}
	if !s.session.IsAdmin() {
		return ErrNotAdmin
	}
	if err := s.membership.DeleteMember(ctx, memberID); err != nil {
		return fmt.Errorf("farm: removing member failed: %w", err)
	}
	s.logger.Info("member removed", zap.String("member_id", memberID))
	return nil
}

// DeleteFarm removes a farm remotely. When it is the connected farm, the
// local binding is cleared as well.
func (s *Service) DeleteFarm(ctx context.Context, rawID string) error {
	farmID, err := NewFarmID(rawID)
	if err != nil {
		return err
	}

	if err := s.membership.DeleteFarm(ctx, farmID.String()); err != nil {
		return fmt.Errorf("farm: delete failed: %w", err)
	}

	if farmID.String() == s.session.FarmID() {
		if err := s.session.ClearFarm(); err != nil {
			return fmt.Errorf("farm: clearing session failed: %w", err)
		}
		s.engine.Unbind()
	}
	s.logger.Info("farm deleted", zap.String("farm_id", farmID.String()))
	return nil
}

// SaveUserName persists the operator name locally and refreshes this
// device's membership row when connected. The remote update is best
// effort: the local name is authoritative for this device.
func (s *Service) SaveUserName(ctx context.Context, name string) error {
	if err := s.session.SetUserName(name); err != nil {
		return err
	}
	farmID := s.session.FarmID()
	if farmID == "" {
		return nil
	}
	if err := s.membership.UpdateMemberName(ctx, farmID, s.session.DeviceID(), name); err != nil {
		s.logger.Warn("could not update member name remotely", zap.Error(err))
	}
	return nil
}
