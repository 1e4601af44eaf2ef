package timeline

import (
	"math"
	"testing"
	"time"
)

func reconciledPair() []ReconciledSnapshot {
	return []ReconciledSnapshot{
		{
			WakeNumber:     1,
			WakeRoundStart: time.Date(2026, 8, 1, 6, 0, 0, 0, time.UTC),
			Devices: []DeviceObservation{{
				DeviceID:             "dev-a",
				Position:             &Position{X: fptr(10), Y: fptr(10)},
				Telemetry:            &Telemetry{Temperature: fptr(70), Humidity: fptr(40)},
				BatteryHealthPercent: fptr(90),
				MGIState:             &MGIState{CurrentMGI: fptr(0.2)},
			}},
		},
		{
			WakeNumber:     2,
			WakeRoundStart: time.Date(2026, 8, 1, 6, 10, 0, 0, time.UTC),
			Devices: []DeviceObservation{{
				DeviceID:             "dev-a",
				Position:             &Position{X: fptr(10), Y: fptr(10)},
				Telemetry:            &Telemetry{Temperature: fptr(80), Humidity: fptr(60)},
				BatteryHealthPercent: fptr(80),
				MGIState:             &MGIState{CurrentMGI: fptr(0.4)},
			}},
		},
	}
}

func TestInterpolateProgressEndpoints(t *testing.T) {
	pair := reconciledPair()

	atOne := InterpolateFrame(pair, 1, 1)
	if len(atOne) != 1 {
		t.Fatalf("expected one device, got %d", len(atOne))
	}
	if *atOne[0].Temperature != 80 || *atOne[0].Humidity != 60 || *atOne[0].Battery != 80 {
		t.Fatalf("progress=1 must equal current raw values exactly, got %+v", atOne[0])
	}

	atZero := InterpolateFrame(pair, 1, 0)
	if *atZero[0].Temperature != 70 || *atZero[0].Humidity != 40 || *atZero[0].Battery != 90 {
		t.Fatalf("progress=0 must equal previous values exactly, got %+v", atZero[0])
	}
}

func TestInterpolateMidpointUsesEasing(t *testing.T) {
	pair := reconciledPair()

	frame := InterpolateFrame(pair, 1, 0.25)
	eased := EaseInOutCubic(0.25)
	want := 70 + (80-70)*eased
	if math.Abs(*frame[0].Temperature-want) > 1e-9 {
		t.Fatalf("expected eased temperature %v, got %v", want, *frame[0].Temperature)
	}
	// Easing at the midpoint is exactly linear.
	if got := EaseInOutCubic(0.5); math.Abs(got-0.5) > 1e-9 {
		t.Fatalf("expected e(0.5)=0.5, got %v", got)
	}
}

func TestInterpolateNilStartReturnsEnd(t *testing.T) {
	pair := reconciledPair()
	pair[0].Devices[0].Telemetry.Humidity = nil

	frame := InterpolateFrame(pair, 1, 0.5)
	if frame[0].Humidity == nil || *frame[0].Humidity != 60 {
		t.Fatalf("nil start must return end as-is, got %v", frame[0].Humidity)
	}
}

func TestInterpolateNilEndPassesThrough(t *testing.T) {
	pair := reconciledPair()
	pair[1].Devices[0].BatteryHealthPercent = nil

	frame := InterpolateFrame(pair, 1, 0.5)
	if frame[0].Battery != nil {
		t.Fatalf("nil current value must pass through as nil, got %v", *frame[0].Battery)
	}
}

func TestInterpolateShortTimelineUsesRawValues(t *testing.T) {
	single := reconciledPair()[:1]
	frame := InterpolateFrame(single, 0, 0.5)
	if len(frame) != 1 || *frame[0].Temperature != 70 {
		t.Fatalf("short timeline must use raw values, got %+v", frame)
	}
}

func TestInterpolateNewDeviceUsesCurrentValues(t *testing.T) {
	pair := reconciledPair()
	pair[1].Devices = append(pair[1].Devices, DeviceObservation{
		DeviceID:  "dev-b",
		Position:  &Position{X: fptr(5), Y: fptr(5)},
		Telemetry: &Telemetry{Temperature: fptr(65)},
	})

	frame := InterpolateFrame(pair, 1, 0.5)
	if len(frame) != 2 {
		t.Fatalf("expected both devices in frame, got %d", len(frame))
	}
	if *frame[1].Temperature != 65 {
		t.Fatalf("device without a previous counterpart must use current values, got %v", *frame[1].Temperature)
	}
}

func TestInterpolatePositionNeverMoves(t *testing.T) {
	pair := reconciledPair()
	frame := InterpolateFrame(pair, 1, 0.5)
	if *frame[0].Position.X != 10 || *frame[0].Position.Y != 10 {
		t.Fatalf("position must come from the current snapshot verbatim, got %+v", frame[0].Position)
	}
}
