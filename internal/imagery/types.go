package imagery

import (
	"fmt"
	"net/http"
	"time"
)

// ContentTypeJPEG is the only payload type the service requests and serves.
const ContentTypeJPEG = "image/jpeg"

// BoundingBox is a fixed geographic rectangle in EPSG:4326 degrees.
type BoundingBox struct {
	West  float64 `mapstructure:"west" json:"west"`
	South float64 `mapstructure:"south" json:"south"`
	East  float64 `mapstructure:"east" json:"east"`
	North float64 `mapstructure:"north" json:"north"`
}

// Validate checks the box is well formed and within world bounds.
func (b BoundingBox) Validate() error {
	if b.West < -180 || b.East > 180 {
		return fmt.Errorf("longitude out of range: west=%v east=%v", b.West, b.East)
	}
	if b.South < -90 || b.North > 90 {
		return fmt.Errorf("latitude out of range: south=%v north=%v", b.South, b.North)
	}
	if b.West >= b.East {
		return fmt.Errorf("west (%v) must be less than east (%v)", b.West, b.East)
	}
	if b.South >= b.North {
		return fmt.Errorf("south (%v) must be less than north (%v)", b.South, b.North)
	}
	return nil
}

// Outcome is the transient result of a single fetch attempt.
// Exactly one of Body (on success) or Reason (on failure) is meaningful.
type Outcome struct {
	URL        string
	StatusCode int
	Body       []byte
	Reason     string
	Err        error
	Duration   time.Duration
}

// Success builds a successful Outcome.
func Success(url string, body []byte, duration time.Duration) Outcome {
	return Outcome{
		URL:        url,
		StatusCode: http.StatusOK,
		Body:       body,
		Duration:   duration,
	}
}

// StatusFailure builds a failed Outcome for a non-200 provider response.
func StatusFailure(url string, status int, duration time.Duration) Outcome {
	return Outcome{
		URL:        url,
		StatusCode: status,
		Reason:     fmt.Sprintf("unexpected status %d", status),
		Duration:   duration,
	}
}

// TransportFailure builds a failed Outcome for a request that never produced
// a usable response.
func TransportFailure(url string, err error, duration time.Duration) Outcome {
	reason := "transport error"
	if err != nil {
		reason = fmt.Sprintf("transport error: %v", err)
	}
	return Outcome{
		URL:      url,
		Reason:   reason,
		Err:      err,
		Duration: duration,
	}
}

// Failure builds a failed Outcome that is neither a status nor a transport
// problem, such as an unusable request or an empty body.
func Failure(url string, reason string, err error, duration time.Duration) Outcome {
	return Outcome{
		URL:      url,
		Reason:   reason,
		Err:      err,
		Duration: duration,
	}
}

// OK reports whether the attempt produced a servable payload.
func (o Outcome) OK() bool {
	return o.Reason == "" && o.StatusCode == http.StatusOK && len(o.Body) > 0
}

// Attempt is the persisted summary of one refresh attempt.
type Attempt struct {
	ID         string        `json:"id"`
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration_ns"`
	Success    bool          `json:"success"`
	StatusCode int           `json:"status_code,omitempty"`
	Bytes      int           `json:"bytes"`
	Digest     string        `json:"digest,omitempty"`
	BlobURI    string        `json:"blob_uri,omitempty"`
	Reason     string        `json:"reason,omitempty"`
}

// RefreshEvent is published after each successful replace.
type RefreshEvent struct {
	AttemptID string      `json:"attempt_id"`
	FetchedAt time.Time   `json:"fetched_at"`
	Bytes     int         `json:"bytes"`
	Digest    string      `json:"digest"`
	BlobURI   string      `json:"blob_uri,omitempty"`
	Layer     string      `json:"layer"`
	BBox      BoundingBox `json:"bbox"`
}
