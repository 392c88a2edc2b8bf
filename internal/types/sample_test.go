package types

import "testing"

func TestSampleFieldsOrder(t *testing.T) {
	if len(SampleFields) != 16 {
		t.Fatalf("expected 16 fields, got %d", len(SampleFields))
	}

	want := []string{
		"Ch1_rss", "Ch1_peak", "Ch1_avg", "Ch1_sum",
		"Ch2_rss", "Ch2_peak", "Ch2_avg", "Ch2_sum",
		"Ch3_rss", "Ch3_peak", "Ch3_avg", "Ch3_sum",
		"Ch4_rss", "Ch4_peak", "Ch4_avg", "Ch4_sum",
	}
	for i, f := range SampleFields {
		if f.Name != want[i] {
			t.Errorf("field %d: got %q, want %q", i, f.Name, want[i])
		}
	}
}

func TestSampleFieldValue(t *testing.T) {
	var s PulseSample
	for i, f := range SampleFields {
		s.Channels[f.Channel].Set(f.Metric, int32(i*10))
	}

	for i, f := range SampleFields {
		if got := f.Value(s); got != int32(i*10) {
			t.Errorf("%s: got %d, want %d", f.Name, got, i*10)
		}
	}

	if s.Channels[2].Peak != 90 {
		t.Errorf("Ch3_peak: got %d, want 90", s.Channels[2].Peak)
	}
}
