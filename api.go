package main

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi"
	"github.com/go-chi/render"

	"github.com/CodedInternet/dddrive/comms"
	"github.com/CodedInternet/dddrive/onboard"
	driveerrors "github.com/CodedInternet/dddrive/onboard/errors"
)

const (
	EVENTS_DEFAULT_LIMIT = 50
	EVENTS_MAX_LIMIT     = 1000
)

//---
// Payloads
//---

type CmdRequest struct {
	Left  *int `json:"l"`
	Right *int `json:"r"`
}

func (c *CmdRequest) Bind(r *http.Request) error {
	if c.Left == nil || c.Right == nil {
		return comms.ERR_MISSING_SETPOINT
	}
	return nil
}

type TwistRequest struct {
	Linear  float64 `json:"linear"`
	Angular float64 `json:"angular"`
}

func (t *TwistRequest) Bind(r *http.Request) error {
	return nil
}

//---
// Control page views, plain text replies
//---

func queryInt(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, fmt.Errorf("parameter %s is required", key)
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("parameter %s must be an integer, got %q", key, raw)
	}
	return v, nil
}

// CmdHandler serves GET /cmd?l=<int>&r=<int>
func CmdHandler(w http.ResponseWriter, r *http.Request) {
	left, err := queryInt(r, "l")
	if err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	right, err := queryInt(r, "r")
	if err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	ack, err := ENV.Drive.Cmd(left, right)
	if err != nil {
		render.Render(w, r, ErrRejected(err))
		return
	}

	render.PlainText(w, r, fmt.Sprintf("OK L=%d R=%d", ack.Left, ack.Right))
}

func StopHandler(w http.ResponseWriter, r *http.Request) {
	ENV.Drive.Stop()
	render.PlainText(w, r, "STOPPED")
}

func TelemetryHandler(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, comms.NewTelemetryPayload(ENV.Drive.Telemetry()))
}

//---
// JSON API views
//---

func DriveCmd(w http.ResponseWriter, r *http.Request) {
	data := &CmdRequest{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	ack, err := ENV.Drive.Cmd(*data.Left, *data.Right)
	if err != nil {
		render.Render(w, r, ErrRejected(err))
		return
	}

	render.JSON(w, r, comms.NewAckPayload(ack))
}

func DriveStop(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, comms.NewAckPayload(ENV.Drive.Stop()))
}

func DriveTwist(w http.ResponseWriter, r *http.Request) {
	data := &TwistRequest{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	left, right := ENV.Kinematics.WheelSetpoints(onboard.Twist{Linear: data.Linear, Angular: data.Angular})
	ack, err := ENV.Drive.Cmd(left, right)
	if err != nil {
		render.Render(w, r, ErrRejected(err))
		return
	}

	render.JSON(w, r, comms.NewAckPayload(ack))
}

// DriveChannelTelemetry serves a single wheel, addressed as l/left or r/right.
func DriveChannelTelemetry(w http.ResponseWriter, r *http.Request) {
	payload := comms.NewTelemetryPayload(ENV.Drive.Telemetry())

	switch chi.URLParam(r, "channel") {
	case "l", "left":
		render.JSON(w, r, payload.Left)
	case "r", "right":
		render.JSON(w, r, payload.Right)
	default:
		render.Render(w, r, &ErrResponse{
			Err:            driveerrors.ErrUnknownChannel,
			HTTPStatusCode: http.StatusNotFound,
			StatusText:     "Resource not found.",
			ErrorText:      driveerrors.ErrUnknownChannel.Error(),
		})
	}
}

// parseLimit reads a journal entry count, def when raw is empty, capped at
// EVENTS_MAX_LIMIT.
func parseLimit(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	if limit > EVENTS_MAX_LIMIT {
		limit = EVENTS_MAX_LIMIT
	}
	return limit, nil
}

func EventsHandler(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"), EVENTS_DEFAULT_LIMIT)
	if err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	var entries interface{}
	if kind := r.URL.Query().Get("kind"); kind != "" {
		entries, err = ENV.Journal.ByKind(onboard.EventKind(kind), limit)
	} else {
		entries, err = ENV.Journal.Recent(limit)
	}
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}

	render.JSON(w, r, entries)
}

func ConfigHandler(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, ENV.DriveConfig)
}
