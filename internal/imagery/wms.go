package imagery

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the TIME selector format GIBS expects.
const DateLayout = "2006-01-02"

// WMSParams describes a GetMap request against a WMS 1.3.0 endpoint.
type WMSParams struct {
	BaseURL string
	Layer   string
	CRS     string
	Width   int
	Height  int
	BBox    BoundingBox
}

// BuildURL renders the GetMap URL for the UTC calendar day of at.
func (p WMSParams) BuildURL(at time.Time) (string, error) {
	base, err := url.Parse(p.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return "", fmt.Errorf("base url %q must be absolute", p.BaseURL)
	}
	q := base.Query()
	q.Set("SERVICE", "WMS")
	q.Set("REQUEST", "GetMap")
	q.Set("VERSION", "1.3.0")
	q.Set("LAYERS", p.Layer)
	q.Set("STYLES", "")
	q.Set("FORMAT", ContentTypeJPEG)
	q.Set("TRANSPARENT", "FALSE")
	q.Set("WIDTH", strconv.Itoa(p.Width))
	q.Set("HEIGHT", strconv.Itoa(p.Height))
	q.Set("CRS", p.CRS)
	q.Set("BBOX", p.BBox.String())
	q.Set("TIME", at.UTC().Format(DateLayout))
	base.RawQuery = q.Encode()
	return base.String(), nil
}

// String renders the box in WMS BBOX order for EPSG:4326 with lon/lat axes:
// west,south,east,north.
func (b BoundingBox) String() string {
	parts := []float64{b.West, b.South, b.East, b.North}
	out := make([]string, len(parts))
	for i, v := range parts {
		out[i] = strconv.FormatFloat(v, 'f', -1, 64)
	}
	return strings.Join(out, ",")
}
