package farm

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/farmseedhq/farmseed/internal/engine"
	"github.com/farmseedhq/farmseed/internal/model"
	"github.com/farmseedhq/farmseed/internal/remote"
	"github.com/farmseedhq/farmseed/internal/store"
)

type memoryKV struct {
	values map[string]string
}

func newMemoryKV() *memoryKV {
	return &memoryKV{values: map[string]string{}}
}

func (m *memoryKV) Get(key string) (string, bool, error) {
	value, found := m.values[key]
	return value, found, nil
}

func (m *memoryKV) Set(key, value string) error {
	m.values[key] = value
	return nil
}

func (m *memoryKV) Remove(key string) error {
	delete(m.values, key)
	return nil
}

type sequentialIDs struct {
	next int
}

func (s *sequentialIDs) NewID() (string, error) {
	s.next++
	return fmt.Sprintf("id-%d", s.next), nil
}

// fakeHub is an in-memory stand-in for both hub-side contracts.
type fakeHub struct {
	farms   map[string]remote.Farm
	members map[string]remote.Member

	createErr error
	nextID    int
}

func newFakeHub() *fakeHub {
	return &fakeHub{
		farms:   map[string]remote.Farm{},
		members: map[string]remote.Member{},
	}
}

func (f *fakeHub) CreateFarm(_ context.Context, farm remote.Farm) error {
	if f.createErr != nil {
		return f.createErr
	}
	if _, taken := f.farms[farm.ID]; taken {
		return remote.ErrFarmExists
	}
	f.farms[farm.ID] = farm
	return nil
}

func (f *fakeHub) GetFarm(_ context.Context, id string) (remote.Farm, error) {
	farm, found := f.farms[id]
	if !found {
		return remote.Farm{}, remote.ErrFarmNotFound
	}
	return farm, nil
}

func (f *fakeHub) UpsertMember(_ context.Context, member remote.Member) (remote.Member, error) {
	for memberID, existing := range f.members {
		if existing.FarmID == member.FarmID && existing.DeviceID == member.DeviceID {
			existing.UserName = member.UserName
			existing.IsAdmin = member.IsAdmin
			f.members[memberID] = existing
			return existing, nil
		}
	}
	f.nextID++
	member.MemberID = fmt.Sprintf("member-%d", f.nextID)
	member.JoinedAt = time.Now().UTC()
	f.members[member.MemberID] = member
	return member, nil
}

func (f *fakeHub) ListMembers(_ context.Context, farmID string) ([]remote.Member, error) {
	var out []remote.Member
	for _, member := range f.members {
		if member.FarmID == farmID {
			out = append(out, member)
		}
	}
	return out, nil
}

func (f *fakeHub) UpdateMemberName(_ context.Context, farmID, deviceID, userName string) error {
	for memberID, member := range f.members {
		if member.FarmID == farmID && member.DeviceID == deviceID {
			member.UserName = userName
			f.members[memberID] = member
		}
	}
	return nil
}

func (f *fakeHub) DeleteMember(_ context.Context, memberID string) error {
	delete(f.members, memberID)
	return nil
}

func (f *fakeHub) DeleteFarm(_ context.Context, id string) error {
	delete(f.farms, id)
	return nil
}

func (f *fakeHub) Upsert(_ context.Context, _ []model.Row) error { return nil }

func (f *fakeHub) SelectAll(_ context.Context, _ string) ([]model.Row, error) { return nil, nil }

func (f *fakeHub) Delete(_ context.Context, _, _ string) error { return nil }

func (f *fakeHub) DeleteByType(_ context.Context, _ string, _ model.DataType) error { return nil }

type serviceFixture struct {
	session *Session
	engine  *engine.Engine
	service *Service
	hub     *fakeHub
}

func mustNewFixture(t *testing.T) *serviceFixture {
	t.Helper()
	kv := newMemoryKV()
	hub := newFakeHub()

	session, err := LoadSession(SessionConfig{Storage: kv, IDs: &sequentialIDs{}})
	if err != nil {
		t.Fatalf("failed to load session: %v", err)
	}

	recordStore, err := store.New(store.Config{Storage: kv, IDs: &sequentialIDs{}})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	syncEngine, err := engine.New(engine.Config{
		Store:   recordStore,
		Data:    hub,
		Storage: kv,
	})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Session:    session,
		Membership: hub,
		Engine:     syncEngine,
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return &serviceFixture{session: session, engine: syncEngine, service: service, hub: hub}
}

func TestCreateFarmEnrollsDeviceAsAdmin(t *testing.T) {
	fixture := mustNewFixture(t)

	err := fixture.service.CreateFarm(context.Background(), "farm-1", "Home Farm", "Alex", "secret")
	if err != nil {
		t.Fatalf("create farm failed: %v", err)
	}

	if fixture.session.FarmID() != "farm-1" {
		t.Fatalf("expected session bound to farm-1, got %q", fixture.session.FarmID())
	}
	if !fixture.session.IsAdmin() {
		t.Fatalf("expected the creating device to hold the admin flag")
	}
	if fixture.engine.FarmID() != "farm-1" {
		t.Fatalf("expected the sync engine bound to farm-1, got %q", fixture.engine.FarmID())
	}

	members, err := fixture.hub.ListMembers(context.Background(), "farm-1")
	if err != nil {
		t.Fatalf("list members failed: %v", err)
	}
	if len(members) != 1 || !members[0].IsAdmin {
		t.Fatalf("expected one admin membership row, got %+v", members)
	}
}

func TestCreateFarmRejectsTakenID(t *testing.T) {
	fixture := mustNewFixture(t)
	fixture.hub.farms["farm-1"] = remote.Farm{ID: "farm-1", Name: "Taken"}

	err := fixture.service.CreateFarm(context.Background(), "farm-1", "Duplicate", "Alex", "")
	if !errors.Is(err, ErrFarmExists) {
		t.Fatalf("expected ErrFarmExists, got %v", err)
	}
	if fixture.session.FarmID() != "" {
		t.Fatalf("a failed create must not bind the session")
	}
}

func TestJoinFarmWithCorrectPassword(t *testing.T) {
	fixture := mustNewFixture(t)
	fixture.hub.farms["farm-1"] = remote.Farm{ID: "farm-1", Name: "Home Farm", Password: "secret"}

	if err := fixture.service.JoinFarm(context.Background(), "farm-1", "Blair", "secret"); err != nil {
		t.Fatalf("join failed: %v", err)
	}
	if fixture.session.FarmName() != "Home Farm" {
		t.Fatalf("expected farm name persisted, got %q", fixture.session.FarmName())
	}
	if fixture.session.IsAdmin() {
		t.Fatalf("a joining device must not become admin")
	}
}

func TestJoinFarmRejectsWrongPassword(t *testing.T) {
	fixture := mustNewFixture(t)
	fixture.hub.farms["farm-1"] = remote.Farm{ID: "farm-1", Password: "secret"}

	err := fixture.service.JoinFarm(context.Background(), "farm-1", "Blair", "wrong")
	if !errors.Is(err, ErrIncorrectPassword) {
		t.Fatalf("expected ErrIncorrectPassword, got %v", err)
	}
	if fixture.session.FarmID() != "" || fixture.engine.FarmID() != "" {
		t.Fatalf("a rejected join must leave everything disconnected")
	}
}

func TestJoinOpenFarmIgnoresProvidedPassword(t *testing.T) {
	fixture := mustNewFixture(t)
	fixture.hub.farms["farm-1"] = remote.Farm{ID: "farm-1", Name: "Open Farm"}

	if err := fixture.service.JoinFarm(context.Background(), "farm-1", "Blair", "anything"); err != nil {
		t.Fatalf("expected open farm to accept any password, got %v", err)
	}
}

func TestJoinUnknownFarmReturnsNotFound(t *testing.T) {
	fixture := mustNewFixture(t)

	err := fixture.service.JoinFarm(context.Background(), "no-such-farm", "Blair", "")
	if !errors.Is(err, ErrFarmNotFound) {
		t.Fatalf("expected ErrFarmNotFound, got %v", err)
	}
}

func TestJoinRejectsInvalidFarmID(t *testing.T) {
	fixture := mustNewFixture(t)

	err := fixture.service.JoinFarm(context.Background(), "   ", "Blair", "")
	if !errors.Is(err, ErrInvalidFarmID) {
		t.Fatalf("expected ErrInvalidFarmID, got %v", err)
	}
}

func TestLeaveFarmClearsBindingAndMembershipRow(t *testing.T) {
	fixture := mustNewFixture(t)
	if err := fixture.service.CreateFarm(context.Background(), "farm-1", "Home Farm", "Alex", ""); err != nil {
		t.Fatalf("create farm failed: %v", err)
	}

	if err := fixture.service.LeaveFarm(context.Background()); err != nil {
		t.Fatalf("leave failed: %v", err)
	}
	if fixture.session.FarmID() != "" {
		t.Fatalf("expected the session farm binding cleared")
	}
	if fixture.engine.FarmID() != "" {
		t.Fatalf("expected the engine unbound")
	}
	if len(fixture.hub.members) != 0 {
		t.Fatalf("expected own membership row removed, got %+v", fixture.hub.members)
	}
	if fixture.session.DeviceID() == "" {
		t.Fatalf("the device id must survive leaving a farm")
	}
}

func TestLeaveWhileDisconnectedIsNoOp(t *testing.T) {
	fixture := mustNewFixture(t)
	if err := fixture.service.LeaveFarm(context.Background()); err != nil {
		t.Fatalf("expected disconnected leave to be a no-op, got %v", err)
	}
}

func TestRemoveMemberRequiresAdmin(t *testing.T) {
	fixture := mustNewFixture(t)
	fixture.hub.farms["farm-1"] = remote.Farm{ID: "farm-1"}
	if err := fixture.service.JoinFarm(context.Background(), "farm-1", "Blair", ""); err != nil {
		t.Fatalf("join failed: %v", err)
	}

	err := fixture.service.RemoveMember(context.Background(), "member-1")
	if !errors.Is(err, ErrNotAdmin) {
		t.Fatalf("expected ErrNotAdmin for a regular member, got %v", err)
	}
}

func TestMembersRequiresConnection(t *testing.T) {
	fixture := mustNewFixture(t)
	if _, err := fixture.service.Members(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestSaveUserNamePersistsLocallyAndRemotely(t *testing.T) {
	fixture := mustNewFixture(t)
	if err := fixture.service.CreateFarm(context.Background(), "farm-1", "Home Farm", "Alex", ""); err != nil {
		t.Fatalf("create farm failed: %v", err)
	}

	if err := fixture.service.SaveUserName(context.Background(), "Alexandra"); err != nil {
		t.Fatalf("save user name failed: %v", err)
	}
	if fixture.session.UserName() != "Alexandra" {
		t.Fatalf("expected local name updated, got %q", fixture.session.UserName())
	}
	members, _ := fixture.hub.ListMembers(context.Background(), "farm-1")
	if len(members) != 1 || members[0].UserName != "Alexandra" {
		t.Fatalf("expected remote membership row renamed, got %+v", members)
	}
}

func TestDeleteConnectedFarmClearsBinding(t *testing.T) {
	fixture := mustNewFixture(t)
	if err := fixture.service.CreateFarm(context.Background(), "farm-1", "Home Farm", "Alex", ""); err != nil {
		t.Fatalf("create farm failed: %v", err)
	}

	if err := fixture.service.DeleteFarm(context.Background(), "farm-1"); err != nil {
		t.Fatalf("delete farm failed: %v", err)
	}
	if fixture.session.FarmID() != "" || fixture.engine.FarmID() != "" {
		t.Fatalf("deleting the connected farm must clear the binding")
	}
	if _, found := fixture.hub.farms["farm-1"]; found {
		t.Fatalf("expected the farm removed remotely")
	}
}
