package readreceipt

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	chatcontract "carelink/contracts/chat"
	"carelink/internal/device"
	"carelink/internal/identity/models"
	identitystore "carelink/internal/identity/store/identity"
	"carelink/internal/tenant"
	id "carelink/pkg/domain"
	dErrors "carelink/pkg/domain-errors"
	"carelink/pkg/platform/audit"
	auditmem "carelink/pkg/platform/audit/store/memory"
	"carelink/pkg/requestcontext"
)

// fakeWatcher records watch registrations and cancellations.
type fakeWatcher struct {
	mu        sync.Mutex
	nextSubID string
	watched   []id.UserID
	cancelled []string
}

func (f *fakeWatcher) WatchReadReceipts(_ context.Context, _ string, userID id.UserID) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.watched = append(f.watched, userID)
	return f.nextSubID, nil
}

func (f *fakeWatcher) Unwatch(_ context.Context, _ string, subscriptionID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, subscriptionID)
	return nil
}

// fakeFeed hands out an in-process channel per subject.
type fakeFeed struct {
	mu       sync.Mutex
	channels map[string]chan []byte
}

func newFakeFeed() *fakeFeed {
	return &fakeFeed{channels: make(map[string]chan []byte)}
}

func (f *fakeFeed) Subscribe(subject string) (<-chan []byte, func(), error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan []byte, 16)
	f.channels[subject] = ch
	return ch, func() { close(ch) }, nil
}

func (f *fakeFeed) publish(subject string, v any) {
	raw, _ := json.Marshal(v)
	f.mu.Lock()
	ch, ok := f.channels[subject]
	f.mu.Unlock()
	if ok {
		ch <- raw
	}
}

type ReadReceiptSuite struct {
	suite.Suite

	watcher    *fakeWatcher
	subs       *MemorySubscriptionStore
	feed       *fakeFeed
	identities *identitystore.MemoryStore
	devices    *device.MemoryStore
	tenants    *tenant.MemoryStore
	auditStore *auditmem.Store
	mgr        *Manager

	tenantID  id.TenantID
	patientID id.PatientID
	userID    id.UserID
	deviceID  id.DeviceID
}

func (s *ReadReceiptSuite) SetupTest() {
	s.watcher = &fakeWatcher{nextSubID: "sub-1"}
	s.subs = NewMemorySubscriptionStore()
	s.feed = newFakeFeed()
	s.identities = identitystore.NewMemoryStore()
	s.devices = device.NewMemoryStore()
	s.tenants = tenant.NewMemoryStore()
	s.auditStore = auditmem.New()

	s.mgr = NewManager(
		s.watcher, s.subs, s.feed, s.identities, s.devices, s.tenants,
		audit.NewPublisher(s.auditStore),
		slog.New(slog.NewTextHandler(io.Discard, nil)),
	)

	s.tenantID = id.TenantID(uuid.New())
	s.patientID = id.PatientID(uuid.New())
	s.userID = id.UserID(uuid.New())
	s.deviceID = "device-7"

	s.tenants.Save(tenant.Settings{ID: s.tenantID, ShortCode: "mercy"})
	s.devices.Save(device.Device{ID: s.deviceID, UserID: s.userID})
	s.Require().NoError(s.identities.Save(context.Background(), models.FamilyIdentity{
		UserID:    s.userID,
		PatientID: s.patientID,
		TenantID:  s.tenantID,
		State:     models.StateActive,
	}))
}

func TestReadReceiptSuite(t *testing.T) {
	suite.Run(t, new(ReadReceiptSuite))
}

func (s *ReadReceiptSuite) ctx() context.Context {
	ctx := requestcontext.WithUserID(context.Background(), s.userID)
	ctx = requestcontext.WithRole(ctx, id.RoleFamilyMember)
	return requestcontext.WithDeviceID(ctx, s.deviceID)
}

func (s *ReadReceiptSuite) TestSubscribeWithoutDeviceID() {
	ctx := requestcontext.WithUserID(context.Background(), s.userID)
	ctx = requestcontext.WithRole(ctx, id.RoleFamilyMember)

	_, err := s.mgr.Subscribe(ctx, s.userID)

	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	// No external call happens before the device check.
	s.Empty(s.watcher.watched)
}

func (s *ReadReceiptSuite) TestSubscribeRejectsForeignDevice() {
	ctx := requestcontext.WithUserID(context.Background(), s.userID)
	ctx = requestcontext.WithRole(ctx, id.RoleFamilyMember)
	ctx = requestcontext.WithDeviceID(ctx, "someone-elses-device")

	_, err := s.mgr.Subscribe(ctx, s.userID)

	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeUnauthorized))
	s.Empty(s.watcher.watched)
}

func (s *ReadReceiptSuite) TestSubscribeRegistersWatch() {
	sub, err := s.mgr.Subscribe(s.ctx(), s.userID)

	s.Require().NoError(err)
	defer sub.Close()
	s.Equal("sub-1", sub.SubscriptionID)
	s.Equal([]id.UserID{s.userID}, s.watcher.watched)

	stored, err := s.subs.Get(context.Background(), s.userID)
	s.Require().NoError(err)
	s.Equal("sub-1", stored)

	s.Len(s.auditStore.ByAction(audit.EventReceiptSubscribed), 1)
}

func (s *ReadReceiptSuite) TestResubscribeCancelsPreviousWatch() {
	first, err := s.mgr.Subscribe(s.ctx(), s.userID)
	s.Require().NoError(err)
	first.Close()

	s.watcher.nextSubID = "sub-2"
	second, err := s.mgr.Subscribe(s.ctx(), s.userID)
	s.Require().NoError(err)
	defer second.Close()

	s.Equal([]string{"sub-1"}, s.watcher.cancelled)
	s.Equal("sub-2", second.SubscriptionID)

	stored, err := s.subs.Get(context.Background(), s.userID)
	s.Require().NoError(err)
	s.Equal("sub-2", stored)
}

func (s *ReadReceiptSuite) TestEventsDeliveredToDeviceFeed() {
	sub, err := s.mgr.Subscribe(s.ctx(), s.userID)
	s.Require().NoError(err)
	defer sub.Close()

	want := chatcontract.ReadReceiptEvent{
		ChannelID: "ch-1",
		UserID:    s.userID.String(),
		ReadUpTo:  42,
		At:        "2026-08-30T12:00:00Z",
	}
	s.feed.publish("carelink.mercy.device.device-7", want)

	select {
	case got := <-sub.Events:
		s.Equal(want, got)
	case <-time.After(time.Second):
		s.Fail("timed out waiting for read-receipt event")
	}
}

func (s *ReadReceiptSuite) TestEventsDroppedAfterDeviceRotation() {
	sub, err := s.mgr.Subscribe(s.ctx(), s.userID)
	s.Require().NoError(err)
	defer sub.Close()

	// The user re-registers on a new device; events for the old device stop
	// forwarding even though the feed still carries them.
	s.devices.Save(device.Device{ID: "device-8", UserID: s.userID})

	s.feed.publish("carelink.mercy.device.device-7", chatcontract.ReadReceiptEvent{ChannelID: "ch-1"})

	select {
	case _, ok := <-sub.Events:
		if ok {
			s.Fail("event should have been dropped")
		}
	case <-time.After(100 * time.Millisecond):
		// nothing delivered
	}
}

func (s *ReadReceiptSuite) TestEventsDroppedAfterRemoval() {
	sub, err := s.mgr.Subscribe(s.ctx(), s.userID)
	s.Require().NoError(err)
	defer sub.Close()

	s.Require().NoError(s.identities.SoftRemove(context.Background(), s.userID, time.Now()))

	s.feed.publish("carelink.mercy.device.device-7", chatcontract.ReadReceiptEvent{ChannelID: "ch-1"})

	select {
	case _, ok := <-sub.Events:
		if ok {
			s.Fail("event should have been dropped")
		}
	case <-time.After(100 * time.Millisecond):
	}
}

func (s *ReadReceiptSuite) TestUnsubscribe() {
	sub, err := s.mgr.Subscribe(s.ctx(), s.userID)
	s.Require().NoError(err)
	sub.Close()

	s.Require().NoError(s.mgr.Unsubscribe(s.ctx(), s.userID))

	s.Equal([]string{"sub-1"}, s.watcher.cancelled)
	_, err = s.subs.Get(context.Background(), s.userID)
	s.Require().Error(err)
}

func (s *ReadReceiptSuite) TestUnsubscribeWithoutWatchIsNoop() {
	s.Require().NoError(s.mgr.Unsubscribe(s.ctx(), s.userID))
	s.Empty(s.watcher.cancelled)
}
