package types

import (
	"fmt"
	"time"
)

// NumChannels is the number of acquisition channels reported per sample
const NumChannels = 4

// Metric identifies one of the four per-channel values
type Metric int

const (
	MetricRSS Metric = iota
	MetricPeak
	MetricAvg
	MetricSum

	numMetrics = 4
)

// String returns the metric suffix used in field names
func (m Metric) String() string {
	switch m {
	case MetricRSS:
		return "rss"
	case MetricPeak:
		return "peak"
	case MetricAvg:
		return "avg"
	case MetricSum:
		return "sum"
	default:
		return "unknown"
	}
}

// Channel holds the four metrics of one acquisition channel
type Channel struct {
	RSS  int32 `json:"rss" msgpack:"rss"`
	Peak int32 `json:"peak" msgpack:"peak"`
	Avg  int32 `json:"avg" msgpack:"avg"`
	Sum  int32 `json:"sum" msgpack:"sum"`
}

// Get returns the value of metric m
func (c Channel) Get(m Metric) int32 {
	switch m {
	case MetricRSS:
		return c.RSS
	case MetricPeak:
		return c.Peak
	case MetricAvg:
		return c.Avg
	default:
		return c.Sum
	}
}

// Set assigns the value of metric m
func (c *Channel) Set(m Metric, v int32) {
	switch m {
	case MetricRSS:
		c.RSS = v
	case MetricPeak:
		c.Peak = v
	case MetricAvg:
		c.Avg = v
	default:
		c.Sum = v
	}
}

// PulseSample is one decoded device block.
// Values are copied, never shared.
type PulseSample struct {
	Channels [NumChannels]Channel `json:"channels" msgpack:"channels"`
}

// RateValue is the number of samples observed during the last completed interval
type RateValue int32

// PublishedState is the consistent unit handed out by the publish store
type PublishedState struct {
	Sample   PulseSample `json:"sample" msgpack:"sample"`
	Rate     RateValue   `json:"rate" msgpack:"rate"`
	Version  uint64      `json:"version" msgpack:"version"`
	SampleAt time.Time   `json:"sample_at" msgpack:"sample_at"`
	RateAt   time.Time   `json:"rate_at" msgpack:"rate_at"`
}

// SampleField describes one of the 16 telemetry fields in wire order
type SampleField struct {
	Name    string
	Channel int // zero based
	Metric  Metric
}

// Value extracts the field from a sample
func (f SampleField) Value(s PulseSample) int32 {
	return s.Channels[f.Channel].Get(f.Metric)
}

// SampleFields lists every sample field in wire order:
// Ch1_rss, Ch1_peak, Ch1_avg, Ch1_sum, Ch2_rss, ... Ch4_sum.
var SampleFields = buildSampleFields()

// RateFieldName is the name of the published rate value
const RateFieldName = "pulse_rate"

func buildSampleFields() []SampleField {
	fields := make([]SampleField, 0, NumChannels*numMetrics)
	for ch := 0; ch < NumChannels; ch++ {
		for m := Metric(0); m < numMetrics; m++ {
			fields = append(fields, SampleField{
				Name:    fmt.Sprintf("Ch%d_%s", ch+1, m),
				Channel: ch,
				Metric:  m,
			})
		}
	}
	return fields
}
