package internal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bloodlink-backend/config"
	"bloodlink-backend/internal/delivery"
	"bloodlink-backend/internal/drone"
	"bloodlink-backend/internal/dronesync"
	"bloodlink-backend/internal/inventory"
	"bloodlink-backend/internal/model"
	"bloodlink-backend/internal/notification"
	"bloodlink-backend/internal/store"
	"bloodlink-backend/internal/testutil"
	"bloodlink-backend/internal/validation"
)

// fakeAutopilot answers the drone control surface and flies "towards" the
// hospital once a mission is started.
type fakeAutopilot struct {
	mu       sync.Mutex
	mission  map[string]any
	started  bool
	position [2]float64
}

func (f *fakeAutopilot) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/flight_info", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		mode := "LOITER"
		if f.started {
			mode = "AUTO"
		}
		_ = json.NewEncoder(w).Encode(drone.FlightInfo{
			Latitude:   f.position[0],
			Longitude:  f.position[1],
			AltitudeM:  60,
			IsArmed:    f.started,
			FlightMode: mode,
		})
	})
	mux.HandleFunc("/mission/create", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		f.mission = body
		_, _ = w.Write([]byte(`{"status":"created"}`))
	})
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.started = true
		f.position = [2]float64{48.82, 2.32}
		_, _ = w.Write([]byte(`{"status":"started"}`))
	})
	return mux
}

// TestDeliveryLifecycle walks one order from placement to validation with
// every component wired the way the server wires them.
func TestDeliveryLifecycle(t *testing.T) {
	ctx := context.Background()
	db := testutil.OpenDB(t)
	testutil.Seed(t, db)
	testutil.AddBags(t, db, 3, model.BloodONeg, 4)

	autopilot := &fakeAutopilot{position: [2]float64{48.85, 2.35}}
	srv := httptest.NewServer(autopilot.handler(t))
	t.Cleanup(srv.Close)
	endpoint := srv.URL
	require.NoError(t, db.Create(&model.Drone{ID: 1, Name: "alpha", CenterID: 3, Endpoint: &endpoint}).Error)

	cfg := config.Default()
	s := store.NewGormStore(db)
	alloc := inventory.NewAllocator(db, nil)
	fanout := notification.NewFanout(db, nil, nil)
	client := drone.NewClient(s, cfg.DroneClient, nil)
	orders := delivery.NewStateMachine(db, alloc, fanout, s, client, nil)
	validator := validation.NewService(db, fanout, nil)
	loop := dronesync.NewLoop(s, client, cfg.DroneSync, nil)

	// 1. The hospital orders two urgent bags.
	d, err := orders.PlaceOrder(ctx, delivery.OrderRequest{
		HospitalID: 7, CenterID: 3, BloodType: "O neg", Quantity: 2, Urgent: true,
	}, 200)
	require.NoError(t, err)
	assert.Equal(t, int64(2), testutil.CountAvailable(t, db, model.BloodONeg))

	var urgent model.Notification
	require.NoError(t, db.Where("user_id = ? AND type = ?", 100, model.NotificationNewOrder).First(&urgent).Error)
	assert.Equal(t, model.PriorityUrgent, urgent.Priority)

	// 2. The center accepts, a dronist takes it with drone 1.
	_, err = orders.UpdateStatus(ctx, d.ID, delivery.StatusUpdate{Status: model.StatusAcceptedCenter}, 100)
	require.NoError(t, err)
	droneID := int64(1)
	_, err = orders.UpdateStatus(ctx, d.ID, delivery.StatusUpdate{Status: model.StatusAcceptedDronist, DroneID: &droneID}, 300)
	require.NoError(t, err)

	// 3. Center staff load the bags.
	outcome, err := validator.RecordParticipation(ctx, d.ID, 101)
	require.NoError(t, err)
	assert.Equal(t, validation.OutcomeCharged, outcome)

	// 4. Dispatch uploads the route and starts the drone.
	res, err := orders.Dispatch(ctx, d.ID, 300)
	require.NoError(t, err)
	assert.Equal(t, model.StatusInTransit, res.Delivery.Status)

	autopilot.mu.Lock()
	waypoints, _ := autopilot.mission["waypoints"].([]any)
	autopilot.mu.Unlock()
	assert.Len(t, waypoints, 2)

	// 5. The sync loop picks up the flying drone.
	tick := loop.Tick(ctx)
	assert.Equal(t, []int64{1}, tick.Synced)

	flying, err := s.GetDrone(ctx, 1)
	require.NoError(t, err)
	assert.True(t, flying.IsArmed)
	assert.Equal(t, "AUTO", flying.FlightMode)
	assert.Equal(t, 48.82, flying.Latitude)
	assert.Equal(t, model.MissionActive, flying.IntendedMissionStatus)

	statuses, err := loop.DronesStatus(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.True(t, statuses[0].IsOnline)

	// 6. The hospital confirms reception.
	outcome, err = validator.RecordParticipation(ctx, d.ID, 201)
	require.NoError(t, err)
	assert.Equal(t, validation.OutcomeDelivered, outcome)

	var final model.Delivery
	require.NoError(t, db.First(&final, d.ID).Error)
	assert.Equal(t, model.StatusDelivered, final.Status)
	require.NotNil(t, final.ValidatedAt)
	assert.WithinDuration(t, time.Now(), *final.ValidatedAt, time.Minute)

	// Bags stay attached to the delivered order.
	assert.Equal(t, int64(2), testutil.CountAvailable(t, db, model.BloodONeg))

	report, err := validator.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Delivered+report.Charged+report.Failed)

	assert.Equal(t, int64(1), testutil.CountNotifications(t, db, 200, model.NotificationDelivered))
	assert.Equal(t, int64(1), testutil.CountNotifications(t, db, 100, model.NotificationInTransit))
}
