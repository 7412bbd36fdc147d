package drone

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"bloodlink-backend/config"
	"bloodlink-backend/internal/apperr"
	"bloodlink-backend/internal/logger"
	"bloodlink-backend/internal/model"
	"bloodlink-backend/internal/store"
)

const maxErrorBody = 256

// Client talks to the HTTP control surface exposed by each drone.
//
// Every call is attempted once. Command calls are bounded by
// CommandTimeout and reads by QueryTimeout. A drone without an endpoint
// fails fast with a NotConfigured *apperr.ExternalEndpointError.
//
// When a command is accepted the drone's intent columns are updated; they
// record what was asked, not what the drone reported.
type Client struct {
	httpClient *resty.Client
	store      store.Store
	cfg        config.DroneClientConfig
	logger     *zap.Logger
	now        func() time.Time
}

// NewClient creates a drone client.
func NewClient(s store.Store, cfg config.DroneClientConfig, log *zap.Logger) *Client {
	httpClient := resty.New().
		SetRetryCount(0).
		SetHeader("Accept", "application/json")

	return &Client{
		httpClient: httpClient,
		store:      s,
		cfg:        cfg,
		logger:     logger.OrNop(log).Named("drone_client"),
		now:        time.Now,
	}
}

// FetchFlightInfo reads the live telemetry of d.
func (c *Client) FetchFlightInfo(ctx context.Context, d *model.Drone) (*FlightInfo, error) {
	body, err := c.do(ctx, d, "flight_info", http.MethodGet, "/flight_info", c.cfg.QueryTimeout, nil)
	if err != nil {
		return nil, err
	}

	var report flightInfoReport
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, &apperr.ExternalEndpointError{
			DroneID:   d.ID,
			Operation: "flight_info",
			Message:   "malformed flight info",
			Cause:     err,
		}
	}
	if missing := report.missing(); len(missing) > 0 {
		return nil, &apperr.ExternalEndpointError{
			DroneID:   d.ID,
			Operation: "flight_info",
			Message:   "malformed flight info: missing " + strings.Join(missing, ", "),
		}
	}
	info := report.flightInfo()
	return &info, nil
}

// GetFlightInfo loads the drone and reads its live telemetry.
func (c *Client) GetFlightInfo(ctx context.Context, droneID int64) (*FlightInfo, error) {
	d, err := c.store.GetDrone(ctx, droneID)
	if err != nil {
		return nil, err
	}
	return c.FetchFlightInfo(ctx, d)
}

// CreateMission uploads a waypoint mission. An empty filename is generated.
func (c *Client) CreateMission(ctx context.Context, droneID int64, req CreateMissionRequest) (*Result, error) {
	if len(req.Waypoints) == 0 {
		return nil, apperr.Validation("a mission needs at least one waypoint")
	}
	if req.Filename == "" {
		req.Filename = fmt.Sprintf("mission-%s.waypoints", uuid.NewString())
	}
	if req.TakeoffAltitude <= 0 {
		req.TakeoffAltitude = c.cfg.TakeoffAltitudeM
	}
	if req.Mode == "" {
		req.Mode = c.cfg.MissionMode
	}

	return c.command(ctx, droneID, "mission_create", "/mission/create",
		func(r *resty.Request) { r.SetBody(req) },
		store.Intent{MissionStatus: model.MissionReady, MissionFile: req.Filename},
		req.Filename)
}

// StartMission starts the uploaded mission.
func (c *Client) StartMission(ctx context.Context, droneID int64) (*Result, error) {
	return c.command(ctx, droneID, "start", "/start", nil,
		store.Intent{MissionStatus: model.MissionActive, FlightMode: c.cfg.MissionMode}, "")
}

// ReturnToHome sends the drone back to its launch point.
func (c *Client) ReturnToHome(ctx context.Context, droneID int64) (*Result, error) {
	return c.command(ctx, droneID, "rth", "/rth", nil,
		store.Intent{MissionStatus: model.MissionReturning, FlightMode: "RTL"}, "")
}

// ModifyMission changes one waypoint of an uploaded mission.
func (c *Client) ModifyMission(ctx context.Context, droneID int64, req ModifyMissionRequest) (*Result, error) {
	if req.Filename == "" {
		return nil, apperr.Validation("filename is required")
	}
	if req.WaypointSeq < 0 {
		return nil, apperr.Validation("waypoint_seq must not be negative")
	}
	return c.command(ctx, droneID, "mission_modify", "/mission/modify",
		func(r *resty.Request) { r.SetBody(req) },
		store.Intent{MissionStatus: model.MissionReady, MissionFile: req.Filename},
		req.Filename)
}

// SendMissionFile uploads a mission file as multipart field "file".
func (c *Client) SendMissionFile(ctx context.Context, droneID int64, filename string, content io.Reader) (*Result, error) {
	if filename == "" {
		return nil, apperr.Validation("filename is required")
	}
	return c.command(ctx, droneID, "mission_send", "/mission/send",
		func(r *resty.Request) { r.SetFileReader("file", filename, content) },
		store.Intent{MissionStatus: model.MissionReady, MissionFile: filename},
		filename)
}

// ChangeFlightMode asks the autopilot to switch mode.
func (c *Client) ChangeFlightMode(ctx context.Context, droneID int64, mode string) (*Result, error) {
	mode = strings.ToUpper(strings.TrimSpace(mode))
	if mode == "" {
		return nil, apperr.Validation("mode is required")
	}
	return c.command(ctx, droneID, "command", "/command",
		func(r *resty.Request) { r.SetBody(CommandRequest{Mode: mode}) },
		store.Intent{FlightMode: mode}, "")
}

// CreateDeliveryMission uploads a two-waypoint mission from the delivery's
// center to its hospital.
func (c *Client) CreateDeliveryMission(ctx context.Context, droneID int64, route *store.DeliveryRoute) (*Result, error) {
	req := CreateMissionRequest{
		Filename:        fmt.Sprintf("delivery-%d-%s.waypoints", route.Delivery.ID, uuid.NewString()[:8]),
		TakeoffAltitude: c.cfg.TakeoffAltitudeM,
		Mode:            c.cfg.MissionMode,
		Waypoints: []Waypoint{
			{Latitude: route.Center.Latitude, Longitude: route.Center.Longitude, Altitude: c.cfg.CruiseAltitudeM},
			{Latitude: route.Hospital.Latitude, Longitude: route.Hospital.Longitude, Altitude: c.cfg.CruiseAltitudeM},
		},
	}
	return c.CreateMission(ctx, droneID, req)
}

func (c *Client) command(ctx context.Context, droneID int64, op, path string, prepare func(*resty.Request), intent store.Intent, filename string) (*Result, error) {
	d, err := c.store.GetDrone(ctx, droneID)
	if err != nil {
		return nil, err
	}

	body, err := c.do(ctx, d, op, http.MethodPost, path, c.cfg.CommandTimeout, prepare)
	if err != nil {
		return nil, err
	}

	intent.At = c.now()
	if err := c.store.RecordIntent(ctx, droneID, intent); err != nil {
		c.logger.Warn("command accepted but intent not recorded",
			zap.Int64("drone_id", droneID),
			zap.String("operation", op),
			zap.Error(err),
		)
	}

	return &Result{DroneID: droneID, Filename: filename, Response: rawJSON(body)}, nil
}

func (c *Client) do(ctx context.Context, d *model.Drone, op, method, path string, timeout time.Duration, prepare func(*resty.Request)) ([]byte, error) {
	if !d.HasEndpoint() {
		return nil, &apperr.ExternalEndpointError{
			DroneID:       d.ID,
			Operation:     op,
			NotConfigured: true,
			Message:       "endpoint not configured",
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req := c.httpClient.R().SetContext(callCtx)
	if prepare != nil {
		prepare(req)
	}

	url := strings.TrimRight(*d.Endpoint, "/") + path
	resp, err := req.Execute(method, url)
	if err != nil {
		msg := "request failed"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			msg = fmt.Sprintf("timed out after %s", timeout)
		}
		c.logger.Warn("drone call failed",
			zap.Int64("drone_id", d.ID),
			zap.String("operation", op),
			zap.String("url", url),
			zap.Error(err),
		)
		return nil, &apperr.ExternalEndpointError{DroneID: d.ID, Operation: op, Message: msg, Cause: err}
	}

	if !resp.IsSuccess() {
		body := resp.Body()
		if len(body) > maxErrorBody {
			body = body[:maxErrorBody]
		}
		c.logger.Warn("drone call rejected",
			zap.Int64("drone_id", d.ID),
			zap.String("operation", op),
			zap.Int("status_code", resp.StatusCode()),
		)
		return nil, &apperr.ExternalEndpointError{
			DroneID:    d.ID,
			Operation:  op,
			StatusCode: resp.StatusCode(),
			Message:    fmt.Sprintf("unexpected status %d: %s", resp.StatusCode(), strings.TrimSpace(string(body))),
		}
	}
	return resp.Body(), nil
}

// rawJSON passes a drone's answer through as JSON, quoting it when the body
// is not JSON itself.
func rawJSON(body []byte) json.RawMessage {
	if len(body) == 0 {
		return nil
	}
	if json.Valid(body) {
		return json.RawMessage(body)
	}
	quoted, _ := json.Marshal(string(body))
	return quoted
}
