package telemetry

import (
	"errors"
	"testing"
	"time"

	"github.com/speedwagon-io/tankgate/internal/model"
)

func TestDecode_ValidFrame(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		line string
		want model.Reading
	}{
		{
			name: "all off",
			line: "L:45.2,P:20.15,F:0.00,S1:0,S2:0,S3:0,S4:0",
			want: model.Reading{WaterLevelPercent: 45.2, PressurePSI: 20.15, FlowRateLPM: 0},
		},
		{
			name: "all on with CRLF",
			line: "L:96.0,P:13.00,F:2.50,S1:1,S2:1,S3:1,S4:1\r\n",
			want: model.Reading{
				WaterLevelPercent: 96, PressurePSI: 13, FlowRateLPM: 2.5,
				Pump1On: true, Pump2On: true, Valve1Open: true, Valve2Open: true,
			},
		},
		{
			name: "flag order is pump1 pump2 valve1 valve2",
			line: "L:10.0,P:1.00,F:1.00,S1:0,S2:1,S3:0,S4:1",
			want: model.Reading{
				WaterLevelPercent: 10, PressurePSI: 1, FlowRateLPM: 1,
				Pump2On: true, Valve2Open: true,
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := decodeAt(tt.line, now)
			if res.Kind != KindData {
				t.Fatalf("expected data, got %s (%v)", res.Kind, res.Err)
			}
			want := tt.want
			want.CapturedAt = now
			if res.Reading != want {
				t.Errorf("reading mismatch:\n got  %+v\n want %+v", res.Reading, want)
			}
		})
	}
}

func TestDecode_Informational(t *testing.T) {
	lines := []string{
		"CMD_ACK:P1ON",
		"CMD_ERR:UNKNOWN XYZ",
		BootBanner,
		"tank controller ready\r",
	}
	for _, line := range lines {
		res := Decode(line)
		if res.Kind != KindInformational {
			t.Errorf("%q: expected informational, got %s", line, res.Kind)
		}
	}
}

func TestDecode_Empty(t *testing.T) {
	for _, line := range []string{"", "\n", "  \r\n"} {
		if res := Decode(line); res.Kind != KindEmpty {
			t.Errorf("%q: expected empty, got %s", line, res.Kind)
		}
	}
}

func TestDecode_Malformed(t *testing.T) {
	lines := []string{
		"garbage",
		"L:45.2,P:20.15,F:0.00,S1:0,S2:0,S3:0",
		"L:45.2,P:20.15,F:0.00,S1:0,S2:0,S3:0,S4:0,S5:1",
		"P:20.15,L:45.2,F:0.00,S1:0,S2:0,S3:0,S4:0",
		"L:abc,P:20.15,F:0.00,S1:0,S2:0,S3:0,S4:0",
		"L:45.2,P:,F:0.00,S1:0,S2:0,S3:0,S4:0",
		"L:45.2,P:20.15,F:NaN,S1:0,S2:0,S3:0,S4:0",
		"L:45.2,P:20.15,F:0.00,S1:2,S2:0,S3:0,S4:0",
		"L:45.2,P:20.15,F:0.00,S1:0,S2:true,S3:0,S4:0",
		"L:45.2,P:20.15,F:0.00,S1:0,S2:0,S3:0,S4:01",
		"L45.2,P:20.15,F:0.00,S1:0,S2:0,S3:0,S4:0",
		"L:1e1,P:20.15,F:0.00,S1:0,S2:0,S3:0,S4:0",
		"L:+5,P:20.15,F:0.00,S1:0,S2:0,S3:0,S4:0",
		"L:45.2,P:0x1p3,F:0.00,S1:0,S2:0,S3:0,S4:0",
		"L:45.2,P:20.15,F:Infinity,S1:0,S2:0,S3:0,S4:0",
		"L:45.,P:20.15,F:0.00,S1:0,S2:0,S3:0,S4:0",
		"L:.5,P:20.15,F:0.00,S1:0,S2:0,S3:0,S4:0",
		"L: 45.2,P:20.15,F:0.00,S1:0,S2:0,S3:0,S4:0",
	}
	for _, line := range lines {
		res := Decode(line)
		if res.Kind != KindMalformed {
			t.Errorf("%q: expected malformed, got %s", line, res.Kind)
			continue
		}
		if !errors.Is(res.Err, ErrMalformed) {
			t.Errorf("%q: error should wrap ErrMalformed, got %v", line, res.Err)
		}
		if res.Reading != (model.Reading{}) {
			t.Errorf("%q: malformed result must not carry a partial reading", line)
		}
	}
}

func TestDecode_Idempotent(t *testing.T) {
	now := time.Now()
	line := "L:50.0,P:10.00,F:1.00,S1:1,S2:0,S3:0,S4:0"
	a := decodeAt(line, now)
	b := decodeAt(line, now)
	if a != b {
		t.Errorf("decode should be idempotent: %+v != %+v", a, b)
	}
}
