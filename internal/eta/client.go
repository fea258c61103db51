// Package eta talks to the external ETA prediction service.
package eta

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"fleetopt/internal/opt"
	"fleetopt/internal/upstream"
)

type request struct {
	Origin        opt.Point `json:"origin"`
	Destination   opt.Point `json:"destination"`
	DepartureTime string    `json:"departureTime"`
}

type response struct {
	PredictedMinutes *float64 `json:"predictedMinutes"`
	Confidence       float64  `json:"confidence"`
}

// Client implements opt.ETAPredictor over HTTP.
type Client struct {
	baseURL string
	caller  *upstream.Caller
}

func NewClient(baseURL string, caller *upstream.Caller) *Client {
	return &Client{baseURL: strings.TrimRight(baseURL, "/"), caller: caller}
}

// PredictETA returns opt.ErrNoPrediction when the service has no model for
// the leg (404 or a null prediction).
func (c *Client) PredictETA(ctx context.Context, from, to opt.Point, departure time.Time) (opt.Prediction, error) {
	body, err := json.Marshal(request{Origin: from, Destination: to, DepartureTime: departure.UTC().Format(time.RFC3339)})
	if err != nil {
		return opt.Prediction{}, err
	}
	resp, err := c.caller.Do(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/eta", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
	if err != nil {
		var se *upstream.StatusError
		if errors.As(err, &se) && se.Code == http.StatusNotFound {
			return opt.Prediction{}, opt.ErrNoPrediction
		}
		return opt.Prediction{}, fmt.Errorf("eta predict: %w", err)
	}
	defer resp.Body.Close()
	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return opt.Prediction{}, fmt.Errorf("eta predict: decode: %w", err)
	}
	if out.PredictedMinutes == nil {
		return opt.Prediction{}, opt.ErrNoPrediction
	}
	return opt.Prediction{Minutes: *out.PredictedMinutes, Confidence: out.Confidence}, nil
}
