// Package farm manages the device's farm identity and membership: which
// farm this device belongs to, who the operator is, and the membership
// rows on the hub.
package farm

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/farmseedhq/farmseed/internal/identity"
	"github.com/farmseedhq/farmseed/internal/storage"
)

const (
	keyFarmID   = "farmseed_farm_id"
	keyFarmName = "farmseed_farm_name"
	keyUserName = "farmseed_user_name"
	keyDeviceID = "farmseed_device_id"
	keyIsAdmin  = "farmseed_is_admin"
)

const maxIdentifierLength = 190

// ErrInvalidFarmID indicates a farm identifier is empty or exceeds storage
// bounds.
var ErrInvalidFarmID = errors.New("farm: invalid farm id")

// FarmID is a validated farm identifier.
type FarmID string

// NewFarmID validates raw input and returns a FarmID.
func NewFarmID(rawInput string) (FarmID, error) {
	trimmed := strings.TrimSpace(rawInput)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidFarmID)
	}
	if len(trimmed) > maxIdentifierLength {
		return "", fmt.Errorf("%w: exceeds %d characters", ErrInvalidFarmID, maxIdentifierLength)
	}
	return FarmID(trimmed), nil
}

// String returns the underlying identifier.
func (id FarmID) String() string {
	return string(id)
}

// SessionConfig describes the dependencies of the persisted session.
type SessionConfig struct {
	Storage storage.KV
	IDs     identity.Provider
	Logger  *zap.Logger
}

// Session is the device's durable farm-identity state. The device id is
// generated once on first load and never changes.
type Session struct {
	kv     storage.KV
	logger *zap.Logger

	mu       sync.RWMutex
	deviceID string
	userName string
	farmID   string
	farmName string
	isAdmin  bool
}

// LoadSession restores the session from durable storage, minting a device
// id when none exists yet.
func LoadSession(cfg SessionConfig) (*Session, error) {
	if cfg.Storage == nil {
		return nil, errors.New("farm: durable storage is required")
	}
	if cfg.IDs == nil {
		return nil, errors.New("farm: id provider is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Session{kv: cfg.Storage, logger: logger}

	deviceID, found, err := s.kv.Get(keyDeviceID)
	if err != nil {
		return nil, err
	}
	if !found || deviceID == "" {
		deviceID, err = cfg.IDs.NewID()
		if err != nil {
			return nil, err
		}
		deviceID = "dev-" + deviceID
		if err := s.kv.Set(keyDeviceID, deviceID); err != nil {
			return nil, err
		}
		logger.Info("device id generated", zap.String("device_id", deviceID))
	}
	s.deviceID = deviceID

	s.userName, _, _ = getOrEmpty(s.kv, keyUserName)
	s.farmID, _, _ = getOrEmpty(s.kv, keyFarmID)
	s.farmName, _, _ = getOrEmpty(s.kv, keyFarmName)
	rawAdmin, _, _ := getOrEmpty(s.kv, keyIsAdmin)
	s.isAdmin = rawAdmin == "true"

	return s, nil
}

func getOrEmpty(kv storage.KV, key string) (string, bool, error) {
	value, found, err := kv.Get(key)
	if err != nil || !found {
		return "", found, err
	}
	return value, true, nil
}

// DeviceID returns this device's stable identifier.
func (s *Session) DeviceID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.deviceID
}

// UserName returns the operator's display name.
func (s *Session) UserName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userName
}

// FarmID returns the connected farm id, empty when disconnected.
func (s *Session) FarmID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.farmID
}

// FarmName returns the connected farm's display name.
func (s *Session) FarmName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.farmName
}

// IsAdmin reports whether this device holds the admin flag.
func (s *Session) IsAdmin() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isAdmin
}

// SetFarm binds the session to a farm and persists the identity state.
func (s *Session) SetFarm(farmID, farmName, userName string, isAdmin bool) error {
	s.mu.Lock()
	s.farmID = farmID
	s.farmName = farmName
	s.userName = userName
	s.isAdmin = isAdmin
	s.mu.Unlock()

	admin := "false"
	if isAdmin {
		admin = "true"
	}
	for key, value := range map[string]string{
		keyFarmID:   farmID,
		keyFarmName: farmName,
		keyUserName: userName,
		keyIsAdmin:  admin,
	} {
		if err := s.kv.Set(key, value); err != nil {
			return err
		}
	}
	return nil
}

// ClearFarm drops the farm binding. The device id and user name survive.
func (s *Session) ClearFarm() error {
	s.mu.Lock()
	s.farmID = ""
	s.farmName = ""
	s.isAdmin = false
	s.mu.Unlock()

	for _, key := range []string{keyFarmID, keyFarmName, keyIsAdmin} {
		if err := s.kv.Remove(key); err != nil {
			return err
		}
	}
	return nil
}

// SetUserName persists the operator's display name locally.
func (s *Session) SetUserName(name string) error {
	s.mu.Lock()
	s.userName = name
	s.mu.Unlock()
	return s.kv.Set(keyUserName, name)
}
