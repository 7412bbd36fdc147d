package api

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/suite"
	"gorm.io/gorm"

	"bloodlink-backend/config"
	"bloodlink-backend/internal/delivery"
	"bloodlink-backend/internal/drone"
	"bloodlink-backend/internal/dronesync"
	"bloodlink-backend/internal/inventory"
	"bloodlink-backend/internal/model"
	"bloodlink-backend/internal/mw"
	"bloodlink-backend/internal/notification"
	"bloodlink-backend/internal/store"
	"bloodlink-backend/internal/testutil"
	"bloodlink-backend/internal/validation"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type APISuite struct {
	suite.Suite
	db     *gorm.DB
	router *gin.Engine
	drone  *httptest.Server
}

func TestAPISuite(t *testing.T) {
	suite.Run(t, new(APISuite))
}

func newRouter(db *gorm.DB, webpushOptions *webpush.Options) *gin.Engine {
	cfg := config.Default()
	cfg.Server.RateLimitPerSec = 1000
	cfg.Server.RateLimitBurst = 1000

	s := store.NewGormStore(db)
	alloc := inventory.NewAllocator(db, nil)
	fanout := notification.NewFanout(db, nil, nil)
	client := drone.NewClient(s, cfg.DroneClient, nil)

	handler := NewHandler(Services{
		Store:      s,
		Orders:     delivery.NewStateMachine(db, alloc, fanout, s, client, nil),
		Validation: validation.NewService(db, fanout, nil),
		Inventory:  alloc,
		Drones:     client,
		Sync:       dronesync.NewLoop(s, client, cfg.DroneSync, nil),
		WebPush:    webpushOptions,
	}, nil)
	return NewRouter(handler, cfg.Server)
}

func (s *APISuite) SetupTest() {
	s.db = testutil.OpenDB(s.T())
	testutil.Seed(s.T(), s.db)

	mux := http.NewServeMux()
	mux.HandleFunc("/flight_info", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"latitude":48.85,"longitude":2.35,"altitude_m":30,"horizontal_speed_m_s":0,"vertical_speed_m_s":0,"heading_deg":90,"is_armed":false,"flight_mode":"LOITER"}`)
	})
	ok := func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":"ok"}`)
	}
	for _, path := range []string{"/mission/create", "/mission/modify", "/mission/send", "/start", "/rth", "/command"} {
		mux.HandleFunc(path, ok)
	}
	s.drone = httptest.NewServer(mux)
	s.T().Cleanup(s.drone.Close)

	endpoint := s.drone.URL
	s.Require().NoError(s.db.Create(&[]model.Drone{
		{ID: 1, Name: "alpha", CenterID: 3, Endpoint: &endpoint},
		{ID: 2, Name: "bravo", CenterID: 3},
	}).Error)

	s.router = newRouter(s.db, nil)
}

func (s *APISuite) request(method, path string, userID int64, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, path, reader)
	s.Require().NoError(err)
	req.Header.Set("Content-Type", "application/json")
	if userID != 0 {
		req.Header.Set(mw.UserHeader, strconv.FormatInt(userID, 10))
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *APISuite) decode(w *httptest.ResponseRecorder, dst any) {
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), dst), w.Body.String())
}

func (s *APISuite) placeOrder(quantity int) model.Delivery {
	w := s.request(http.MethodPost, "/api/blood/order", 200, gin.H{
		"hospitalId": 7, "centerId": 3, "bloodType": "O+", "quantity": quantity,
	})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var d model.Delivery
	s.decode(w, &d)
	return d
}

func (s *APISuite) TestPlaceOrder() {
	testutil.AddBags(s.T(), s.db, 3, model.BloodOPos, 5)

	d := s.placeOrder(3)
	s.Equal(model.StatusPending, d.Status)
	s.Equal(int64(2), testutil.CountAvailable(s.T(), s.db, model.BloodOPos))
}

func (s *APISuite) TestPlaceOrder_InsufficientStock() {
	testutil.AddBags(s.T(), s.db, 3, model.BloodOPos, 4)

	w := s.request(http.MethodPost, "/api/blood/order", 200, gin.H{
		"hospitalId": 7, "centerId": 3, "bloodType": "O+", "quantity": 10,
	})
	s.Equal(http.StatusBadRequest, w.Code)

	var body struct {
		Error     string `json:"error"`
		Available int    `json:"available"`
		Requested int    `json:"requested"`
	}
	s.decode(w, &body)
	s.Equal(4, body.Available)
	s.Equal(10, body.Requested)
	s.NotEmpty(body.Error)
}

func (s *APISuite) TestPlaceOrder_Rejected() {
	s.Equal(http.StatusUnauthorized, s.request(http.MethodPost, "/api/blood/order", 0, gin.H{
		"hospitalId": 7, "centerId": 3, "bloodType": "O+", "quantity": 1,
	}).Code)

	s.Equal(http.StatusBadRequest, s.request(http.MethodPost, "/api/blood/order", 200, gin.H{
		"hospitalId": 7, "centerId": 3, "bloodType": "Q+", "quantity": 1,
	}).Code)

	s.Equal(http.StatusBadRequest, s.request(http.MethodPost, "/api/blood/order", 200, gin.H{
		"hospitalId": 70, "centerId": 3, "bloodType": "O+", "quantity": 1,
	}).Code)
}

func (s *APISuite) TestCancelOrder() {
	testutil.AddBags(s.T(), s.db, 3, model.BloodOPos, 2)
	d := s.placeOrder(2)
	path := "/api/blood/cancel-order/" + strconv.FormatInt(d.ID, 10)

	w := s.request(http.MethodPost, path, 200, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var cancelled model.Delivery
	s.decode(w, &cancelled)
	s.Equal(model.StatusCancelled, cancelled.Status)
	s.Equal(int64(2), testutil.CountAvailable(s.T(), s.db, model.BloodOPos))

	s.Equal(http.StatusNotFound, s.request(http.MethodPost, path, 200, nil).Code)
	s.Equal(http.StatusBadRequest, s.request(http.MethodPost, "/api/blood/cancel-order/abc", 200, nil).Code)
}

func (s *APISuite) TestCancelOrder_NotPending() {
	testutil.AddBags(s.T(), s.db, 3, model.BloodOPos, 1)
	d := s.placeOrder(1)
	id := strconv.FormatInt(d.ID, 10)

	s.Require().Equal(http.StatusOK, s.request(http.MethodPost, "/api/blood/status-update/"+id, 100,
		gin.H{"status": "accepted_center"}).Code)

	s.Equal(http.StatusBadRequest, s.request(http.MethodPost, "/api/blood/cancel-order/"+id, 200, nil).Code)
}

func (s *APISuite) TestUpdateStatus() {
	testutil.AddBags(s.T(), s.db, 3, model.BloodOPos, 1)
	d := s.placeOrder(1)
	path := "/api/blood/status-update/" + strconv.FormatInt(d.ID, 10)

	s.Equal(http.StatusBadRequest, s.request(http.MethodPost, path, 100, gin.H{"status": "delivered"}).Code)
	s.Equal(http.StatusConflict, s.request(http.MethodPost, path, 300, gin.H{"status": "accepted_dronist"}).Code)
	s.Equal(http.StatusNotFound, s.request(http.MethodPost, "/api/blood/status-update/999", 100, gin.H{"status": "accepted_center"}).Code)

	w := s.request(http.MethodPost, path, 100, gin.H{"status": "accepted_center"})
	s.Require().Equal(http.StatusOK, w.Code)

	w = s.request(http.MethodPost, path, 300, gin.H{"status": "accepted_dronist", "droneId": 1})
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var updated model.Delivery
	s.decode(w, &updated)
	s.Require().NotNil(updated.DroneID)
	s.Equal(int64(1), *updated.DroneID)
}

func (s *APISuite) TestStock() {
	testutil.AddBags(s.T(), s.db, 3, model.BloodAPos, 2)

	w := s.request(http.MethodGet, "/api/blood/stock?centerId=3", 100, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var levels []inventory.StockLevel
	s.decode(w, &levels)
	s.Len(levels, len(model.BloodTypes))
	for _, l := range levels {
		if l.BloodType == model.BloodAPos {
			s.Equal(int64(2), l.Available)
		}
	}

	s.Equal(http.StatusBadRequest, s.request(http.MethodGet, "/api/blood/stock?centerId=x", 100, nil).Code)
}

func (s *APISuite) TestParticipateAndDispatch() {
	testutil.AddBags(s.T(), s.db, 3, model.BloodOPos, 1)
	d := s.placeOrder(1)
	id := strconv.FormatInt(d.ID, 10)

	s.Require().Equal(http.StatusOK, s.request(http.MethodPost, "/api/blood/status-update/"+id, 100, gin.H{"status": "accepted_center"}).Code)
	s.Require().Equal(http.StatusOK, s.request(http.MethodPost, "/api/blood/status-update/"+id, 300, gin.H{"status": "accepted_dronist", "droneId": 1}).Code)

	w := s.request(http.MethodPost, "/api/deliveries/"+id+"/participate", 101, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	s.JSONEq(`{"deliveryId":`+id+`,"transition":"charged"}`, w.Body.String())

	w = s.request(http.MethodPost, "/api/deliveries/"+id+"/dispatch", 300, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var res delivery.DispatchResult
	s.decode(w, &res)
	s.Equal(model.StatusInTransit, res.Delivery.Status)
	s.Contains(res.Mission.Filename, "delivery-"+id+"-")

	w = s.request(http.MethodPost, "/api/deliveries/"+id+"/participate", 200, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"deliveryId":`+id+`,"transition":"delivered"}`, w.Body.String())

	w = s.request(http.MethodPost, "/api/deliveries/reconcile", 0, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var report validation.ReconcileReport
	s.decode(w, &report)
	s.Equal(validation.ReconcileReport{Scanned: 2, Unchanged: 2}, report)
}

func (s *APISuite) TestDrones() {
	w := s.request(http.MethodPost, "/api/drones/1/sync", 0, nil)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())
	var synced model.Drone
	s.decode(w, &synced)
	s.Equal("LOITER", synced.FlightMode)
	s.NotNil(synced.LastSyncAt)

	w = s.request(http.MethodGet, "/api/drones/status", 0, nil)
	s.Require().Equal(http.StatusOK, w.Code)
	var statuses []dronesync.DroneStatus
	s.decode(w, &statuses)
	s.Require().Len(statuses, 2)
	s.True(statuses[0].IsOnline)
	s.False(statuses[1].IsOnline)

	s.Equal(http.StatusOK, s.request(http.MethodGet, "/api/drones/1/flight_info", 0, nil).Code)
	s.Equal(http.StatusBadRequest, s.request(http.MethodGet, "/api/drones/2/flight_info", 0, nil).Code, "no endpoint")
	s.Equal(http.StatusNotFound, s.request(http.MethodGet, "/api/drones/9/flight_info", 0, nil).Code)

	s.Equal(http.StatusOK, s.request(http.MethodPost, "/api/drones/1/mission/start", 0, nil).Code)
	s.Equal(http.StatusOK, s.request(http.MethodPost, "/api/drones/1/rth", 0, nil).Code)
	s.Equal(http.StatusOK, s.request(http.MethodPost, "/api/drones/1/command", 0, gin.H{"mode": "guided"}).Code)
	s.Equal(http.StatusBadRequest, s.request(http.MethodPost, "/api/drones/1/command", 0, gin.H{}).Code)
	s.Equal(http.StatusOK, s.request(http.MethodPost, "/api/drones/1/mission/create", 0, gin.H{
		"waypoints": []gin.H{{"latitude": 48.8, "longitude": 2.3, "altitude": 40}},
	}).Code)
	s.Equal(http.StatusOK, s.request(http.MethodPost, "/api/drones/1/mission/modify", 0, gin.H{
		"filename": "m.waypoints", "waypoint_seq": 1, "updates": gin.H{"altitude": 55},
	}).Code)

	var stored model.Drone
	s.Require().NoError(s.db.First(&stored, 1).Error)
	s.Equal(model.MissionReady, stored.IntendedMissionStatus)
	s.Equal("GUIDED", stored.IntendedFlightMode)
}

func (s *APISuite) TestSendMissionFile() {
	var buf bytes.Buffer
	form := multipart.NewWriter(&buf)
	part, err := form.CreateFormFile("file", "route.waypoints")
	s.Require().NoError(err)
	_, _ = io.WriteString(part, "QGC WPL 110\n")
	s.Require().NoError(form.Close())

	req, _ := http.NewRequest(http.MethodPost, "/api/drones/1/mission/send", &buf)
	req.Header.Set("Content-Type", form.FormDataContentType())
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	s.Require().Equal(http.StatusOK, w.Code, w.Body.String())

	var res drone.Result
	s.decode(w, &res)
	s.Equal("route.waypoints", res.Filename)

	s.Equal(http.StatusBadRequest, s.request(http.MethodPost, "/api/drones/1/mission/send", 0, nil).Code)
}
