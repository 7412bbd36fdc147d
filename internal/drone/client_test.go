package drone

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"bloodlink-backend/config"
	"bloodlink-backend/internal/apperr"
	"bloodlink-backend/internal/model"
	"bloodlink-backend/internal/store"
	"bloodlink-backend/internal/testutil"
)

type fakeDrone struct {
	hits    atomic.Int32
	lastReq atomic.Value // map[string]any
}

func (f *fakeDrone) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/flight_info", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"latitude":48.85,"longitude":2.35,"altitude_m":42.5,"horizontal_speed_m_s":11.2,"vertical_speed_m_s":0.3,"heading_deg":270,"is_armed":true,"flight_mode":"AUTO","battery_percent":80}`)
	})
	record := func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		body := map[string]any{}
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		}
		f.lastReq.Store(body)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	}
	mux.HandleFunc("/mission/create", record)
	mux.HandleFunc("/mission/modify", record)
	mux.HandleFunc("/start", record)
	mux.HandleFunc("/rth", record)
	mux.HandleFunc("/command", record)
	mux.HandleFunc("/mission/send", func(w http.ResponseWriter, r *http.Request) {
		f.hits.Add(1)
		file, header, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer file.Close()
		content, _ := io.ReadAll(file)
		f.lastReq.Store(map[string]any{"filename": header.Filename, "content": string(content)})
		_, _ = io.WriteString(w, "uploaded")
	})
	return mux
}

func testConfig() config.DroneClientConfig {
	cfg := config.Default().DroneClient
	cfg.QueryTimeout = 100 * time.Millisecond
	cfg.CommandTimeout = 200 * time.Millisecond
	return cfg
}

func setup(t *testing.T, handler http.Handler) (*Client, *gorm.DB, *httptest.Server) {
	t.Helper()
	db := testutil.OpenDB(t)
	testutil.Seed(t, db)

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	endpoint := srv.URL + "/"
	require.NoError(t, db.Create(&[]model.Drone{
		{ID: 1, Name: "alpha", CenterID: 3, Endpoint: &endpoint, FlightMode: "LOITER"},
		{ID: 2, Name: "bravo", CenterID: 3},
	}).Error)

	return NewClient(store.NewGormStore(db), testConfig(), nil), db, srv
}

func loadDrone(t *testing.T, db *gorm.DB, id int64) model.Drone {
	t.Helper()
	var d model.Drone
	require.NoError(t, db.First(&d, id).Error)
	return d
}

func TestClient_GetFlightInfo(t *testing.T) {
	fake := &fakeDrone{}
	c, _, _ := setup(t, fake.handler(t))

	info, err := c.GetFlightInfo(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 42.5, info.AltitudeM)
	assert.Equal(t, 11.2, info.HorizontalSpeedMS)
	assert.True(t, info.IsArmed)
	assert.Equal(t, "AUTO", info.FlightMode)
	require.NotNil(t, info.BatteryPercent)
	assert.Equal(t, 80.0, *info.BatteryPercent)

	tel := info.Telemetry()
	assert.Equal(t, 270.0, tel.HeadingDeg)
	assert.Equal(t, info.BatteryPercent, tel.BatteryPercent)
}

func TestClient_NotConfiguredDoesNoIO(t *testing.T) {
	fake := &fakeDrone{}
	c, db, _ := setup(t, fake.handler(t))
	ctx := context.Background()

	_, err := c.GetFlightInfo(ctx, 2)
	var extErr *apperr.ExternalEndpointError
	require.True(t, errors.As(err, &extErr))
	assert.True(t, extErr.NotConfigured)
	assert.Equal(t, "endpoint not configured", extErr.Message)
	assert.Equal(t, http.StatusBadRequest, apperr.HTTPStatus(err))

	_, err = c.StartMission(ctx, 2)
	assert.ErrorIs(t, err, apperr.ErrExternalEndpoint)

	assert.Zero(t, fake.hits.Load())
	assert.Nil(t, loadDrone(t, db, 2).IntentAt)
}

func TestClient_UnknownDrone(t *testing.T) {
	c, _, _ := setup(t, (&fakeDrone{}).handler(t))
	_, err := c.GetFlightInfo(context.Background(), 42)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestClient_Timeout(t *testing.T) {
	slow := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	})
	c, db, _ := setup(t, slow)

	start := time.Now()
	_, err := c.GetFlightInfo(context.Background(), 1)
	elapsed := time.Since(start)

	var extErr *apperr.ExternalEndpointError
	require.True(t, errors.As(err, &extErr))
	assert.Contains(t, extErr.Message, "timed out")
	assert.Zero(t, extErr.StatusCode)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, http.StatusBadGateway, apperr.HTTPStatus(err))

	_, err = c.ReturnToHome(context.Background(), 1)
	require.Error(t, err)
	assert.Empty(t, loadDrone(t, db, 1).IntendedFlightMode, "a failed command records no intent")
}

func TestClient_NonSuccessStatus(t *testing.T) {
	failing := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "mission not loaded", http.StatusConflict)
	})
	c, _, _ := setup(t, failing)

	_, err := c.StartMission(context.Background(), 1)
	var extErr *apperr.ExternalEndpointError
	require.True(t, errors.As(err, &extErr))
	assert.Equal(t, http.StatusConflict, extErr.StatusCode)
	assert.Contains(t, extErr.Message, "mission not loaded")
	assert.Equal(t, http.StatusBadGateway, apperr.HTTPStatus(err))
}

func TestClient_MalformedFlightInfo(t *testing.T) {
	garbage := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "not json")
	})
	c, _, _ := setup(t, garbage)

	_, err := c.GetFlightInfo(context.Background(), 1)
	assert.ErrorIs(t, err, apperr.ErrExternalEndpoint)
}

func TestClient_IncompleteFlightInfo(t *testing.T) {
	testCases := []struct {
		name    string
		body    string
		missing string
	}{
		{"error body", `{"error":"autopilot not ready"}`, "latitude"},
		{"empty object", `{}`, "flight_mode"},
		{"no mode", `{"latitude":48.85,"longitude":2.35,"altitude_m":42.5,"horizontal_speed_m_s":0,"vertical_speed_m_s":0,"heading_deg":90,"is_armed":false}`, "flight_mode"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, db, _ := setup(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = io.WriteString(w, tc.body)
			}))

			info, err := c.GetFlightInfo(context.Background(), 1)
			assert.Nil(t, info)
			assert.ErrorIs(t, err, apperr.ErrExternalEndpoint)
			assert.ErrorContains(t, err, tc.missing)
			assert.Equal(t, "LOITER", loadDrone(t, db, 1).FlightMode)
		})
	}
}

func TestClient_CommandsRecordIntent(t *testing.T) {
	fake := &fakeDrone{}
	c, db, _ := setup(t, fake.handler(t))
	ctx := context.Background()

	res, err := c.CreateMission(ctx, 1, CreateMissionRequest{
		Waypoints: []Waypoint{{Latitude: 48.8, Longitude: 2.3, Altitude: 50}},
	})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Filename, "mission-"))
	assert.JSONEq(t, `{"status":"ok"}`, string(res.Response))

	body := fake.lastReq.Load().(map[string]any)
	assert.Equal(t, res.Filename, body["filename"])
	assert.Equal(t, 20.0, body["takeoff_altitude"])
	assert.Equal(t, "AUTO", body["mode"])

	d := loadDrone(t, db, 1)
	assert.Equal(t, model.MissionReady, d.IntendedMissionStatus)
	assert.Equal(t, res.Filename, d.MissionFile)

	_, err = c.StartMission(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, model.MissionActive, loadDrone(t, db, 1).IntendedMissionStatus)

	_, err = c.ReturnToHome(ctx, 1)
	require.NoError(t, err)
	d = loadDrone(t, db, 1)
	assert.Equal(t, model.MissionReturning, d.IntendedMissionStatus)
	assert.Equal(t, "RTL", d.IntendedFlightMode)

	_, err = c.ChangeFlightMode(ctx, 1, " guided ")
	require.NoError(t, err)
	assert.Equal(t, "GUIDED", fake.lastReq.Load().(map[string]any)["mode"])
	d = loadDrone(t, db, 1)
	assert.Equal(t, "GUIDED", d.IntendedFlightMode)
	assert.Equal(t, "LOITER", d.FlightMode, "telemetry flight mode is untouched by commands")

	alt := 75.0
	_, err = c.ModifyMission(ctx, 1, ModifyMissionRequest{Filename: "m1.waypoints", WaypointSeq: 1, Updates: WaypointUpdate{Altitude: &alt}})
	require.NoError(t, err)
	body = fake.lastReq.Load().(map[string]any)
	assert.Equal(t, float64(1), body["waypoint_seq"])
	assert.Equal(t, map[string]any{"altitude": 75.0}, body["updates"])
	assert.Equal(t, "m1.waypoints", loadDrone(t, db, 1).MissionFile)
}

func TestClient_SendMissionFile(t *testing.T) {
	fake := &fakeDrone{}
	c, db, _ := setup(t, fake.handler(t))

	res, err := c.SendMissionFile(context.Background(), 1, "route.waypoints", strings.NewReader("QGC WPL 110\n"))
	require.NoError(t, err)
	assert.JSONEq(t, `"uploaded"`, string(res.Response))

	got := fake.lastReq.Load().(map[string]any)
	assert.Equal(t, "route.waypoints", got["filename"])
	assert.Equal(t, "QGC WPL 110\n", got["content"])
	assert.Equal(t, "route.waypoints", loadDrone(t, db, 1).MissionFile)
}

func TestClient_CreateDeliveryMission(t *testing.T) {
	fake := &fakeDrone{}
	c, _, _ := setup(t, fake.handler(t))

	route := &store.DeliveryRoute{
		Delivery: model.Delivery{ID: 12},
		Center:   model.DonationCenter{Latitude: 48.85, Longitude: 2.35},
		Hospital: model.Hospital{Latitude: 48.80, Longitude: 2.30},
	}
	res, err := c.CreateDeliveryMission(context.Background(), 1, route)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.Filename, "delivery-12-"))

	body := fake.lastReq.Load().(map[string]any)
	waypoints := body["waypoints"].([]any)
	require.Len(t, waypoints, 2)
	pickup := waypoints[0].(map[string]any)
	dropoff := waypoints[1].(map[string]any)
	assert.Equal(t, 48.85, pickup["latitude"])
	assert.Equal(t, 48.80, dropoff["latitude"])
	assert.Equal(t, 60.0, dropoff["altitude"])
}

func TestClient_ValidatesCommandInput(t *testing.T) {
	fake := &fakeDrone{}
	c, _, _ := setup(t, fake.handler(t))
	ctx := context.Background()

	_, err := c.CreateMission(ctx, 1, CreateMissionRequest{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = c.ChangeFlightMode(ctx, 1, "  ")
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = c.ModifyMission(ctx, 1, ModifyMissionRequest{})
	assert.ErrorIs(t, err, apperr.ErrValidation)
	_, err = c.SendMissionFile(ctx, 1, "", strings.NewReader(""))
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Zero(t, fake.hits.Load())
}

func TestRawJSON(t *testing.T) {
	assert.Nil(t, rawJSON(nil))
	assert.Equal(t, `{"a":1}`, string(rawJSON([]byte(`{"a":1}`))))
	assert.Equal(t, `"plain text"`, string(rawJSON([]byte("plain text"))))
}
