package ml

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Defaults substituted for missing optional input fields, matching the
// values the models were trained against.
const (
	DefaultMagnitude = 6.5
	DefaultDepth     = 30.0
	DefaultLatitude  = 0.0
	DefaultLongitude = 0.0
	DefaultCDI       = 5.0
	DefaultMMI       = 4.0
	DefaultSig       = 500.0
	DefaultNst       = 50.0
	DefaultDmin      = 1.0
	DefaultGap       = 50.0
	DefaultMagType   = "mw"
	DefaultNet       = "us"
	DefaultAlert     = "green"
)

// Number is a float64 that also accepts quoted numeric strings, which is what
// the browser form submits for unedited fields.
type Number float64

// UnmarshalJSON parses a JSON number or a numeric string. null leaves the
// value unset; an empty string is rejected rather than read as zero.
func (n *Number) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		return nil
	}
	s := strings.TrimSpace(strings.Trim(raw, `"`))
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid numeric value %q", s)
	}
	*n = Number(v)
	return nil
}

// EventInput is the seismic parameter set accepted by the prediction
// endpoint. Numeric fields are pointers so that absence can be detected and
// replaced with training defaults.
type EventInput struct {
	Magnitude *Number `json:"magnitude,omitempty"`
	Depth     *Number `json:"depth,omitempty"`
	Latitude  *Number `json:"latitude,omitempty"`
	Longitude *Number `json:"longitude,omitempty"`
	CDI       *Number `json:"cdi,omitempty"`
	MMI       *Number `json:"mmi,omitempty"`
	Sig       *Number `json:"sig,omitempty"`
	Nst       *Number `json:"nst,omitempty"`
	Dmin      *Number `json:"dmin,omitempty"`
	Gap       *Number `json:"gap,omitempty"`

	MagType string `json:"magType,omitempty"`
	Net     string `json:"net,omitempty"`
	Alert   string `json:"alert,omitempty"`

	// Informational only; not part of the feature vector.
	Country   string `json:"country,omitempty"`
	Continent string `json:"continent,omitempty"`
	Location  string `json:"location,omitempty"`
}

// WithDefaults returns a copy with every missing field filled in.
func (in EventInput) WithDefaults() EventInput {
	out := in
	out.Magnitude = fillNumber(in.Magnitude, DefaultMagnitude)
	out.Depth = fillNumber(in.Depth, DefaultDepth)
	out.Latitude = fillNumber(in.Latitude, DefaultLatitude)
	out.Longitude = fillNumber(in.Longitude, DefaultLongitude)
	out.CDI = fillNumber(in.CDI, DefaultCDI)
	out.MMI = fillNumber(in.MMI, DefaultMMI)
	out.Sig = fillNumber(in.Sig, DefaultSig)
	out.Nst = fillNumber(in.Nst, DefaultNst)
	out.Dmin = fillNumber(in.Dmin, DefaultDmin)
	out.Gap = fillNumber(in.Gap, DefaultGap)
	if out.MagType == "" {
		out.MagType = DefaultMagType
	}
	if out.Net == "" {
		out.Net = DefaultNet
	}
	if out.Alert == "" {
		out.Alert = DefaultAlert
	}
	return out
}

func fillNumber(p *Number, def float64) *Number {
	if p != nil {
		return p
	}
	n := Number(def)
	return &n
}

// FeatureVector builds the 24-dimensional vector in training order: the ten
// raw numeric inputs, eleven engineered terms, then the three encoded
// categoricals.
func FeatureVector(in EventInput, enc Encoders) []float64 {
	in = in.WithDefaults()

	magnitude := float64(*in.Magnitude)
	depth := float64(*in.Depth)
	latitude := float64(*in.Latitude)
	longitude := float64(*in.Longitude)
	cdi := float64(*in.CDI)
	mmi := float64(*in.MMI)
	sig := float64(*in.Sig)
	nst := float64(*in.Nst)
	dmin := float64(*in.Dmin)
	gap := float64(*in.Gap)

	shallow := 0.0
	if depth <= 70 {
		shallow = 1
	}
	highSig := 0.0
	if sig >= 600 {
		highSig = 1
	}

	return []float64{
		magnitude,
		depth,
		latitude,
		longitude,
		cdi,
		mmi,
		sig,
		nst,
		dmin,
		gap,
		magnitude * magnitude,
		magnitude * magnitude * magnitude,
		magnitude / (depth + 1),
		magnitude * math.Log1p(depth),
		math.Log1p(depth),
		math.Sqrt(depth),
		shallow,
		math.Abs(latitude),
		math.Sqrt(latitude*latitude + longitude*longitude),
		math.Log1p(sig),
		highSig,
		float64(enc.Encode("magType", in.MagType)),
		float64(enc.Encode("net", in.Net)),
		float64(enc.Encode("alert", in.Alert)),
	}
}

// FeatureNames lists the vector columns in training order.
func FeatureNames() []string {
	return []string{
		"magnitude",
		"depth",
		"latitude",
		"longitude",
		"cdi",
		"mmi",
		"sig",
		"nst",
		"dmin",
		"gap",
		"magnitude_squared",
		"magnitude_cubed",
		"mag_depth_ratio",
		"mag_depth_interaction",
		"depth_log",
		"depth_sqrt",
		"shallow_earthquake",
		"distance_from_equator",
		"location_risk",
		"sig_log",
		"high_significance",
		"magType_encoded",
		"net_encoded",
		"alert_encoded",
	}
}
