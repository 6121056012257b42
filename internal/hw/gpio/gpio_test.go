package gpio

import "testing"

func TestMockDriver_ReadReflectsWrite(t *testing.T) {
	drv := &MockDriver{}
	if level, _ := drv.ReadPin(18); level != Low {
		t.Errorf("unwritten pin = %v, want Low", level)
	}
	if err := drv.WritePin(18, High); err != nil {
		t.Fatalf("WritePin: %v", err)
	}
	if level, _ := drv.ReadPin(18); level != High {
		t.Errorf("pin 18 = %v, want High", level)
	}
}

func TestNewDriver_Mock(t *testing.T) {
	drv, err := NewDriver(true)
	if err != nil {
		t.Fatalf("NewDriver(mock): %v", err)
	}
	if _, ok := drv.(*MockDriver); !ok {
		t.Errorf("NewDriver(true) = %T, want *MockDriver", drv)
	}
}

func TestLine_ActiveHigh(t *testing.T) {
	drv := &MockDriver{}
	l, err := NewOutputLine(drv, 18, false)
	if err != nil {
		t.Fatalf("NewOutputLine: %v", err)
	}
	if level, _ := drv.ReadPin(18); level != Low {
		t.Errorf("initial level = %v, want Low (inactive)", level)
	}
	if err := l.Set(true); err != nil {
		t.Fatal(err)
	}
	if level, _ := drv.ReadPin(18); level != High {
		t.Errorf("active level = %v, want High", level)
	}
	if on, _ := l.Active(); !on {
		t.Error("Active() = false after Set(true)")
	}
}

func TestLine_ActiveLow(t *testing.T) {
	drv := &MockDriver{}
	l, err := NewOutputLine(drv, 24, true)
	if err != nil {
		t.Fatalf("NewOutputLine: %v", err)
	}
	// Inactive is HIGH on an active-low line.
	if level, _ := drv.ReadPin(24); level != High {
		t.Errorf("initial level = %v, want High", level)
	}
	if on, _ := l.Active(); on {
		t.Error("Active() = true right after construction")
	}
	_ = l.Set(true)
	if level, _ := drv.ReadPin(24); level != Low {
		t.Errorf("active level = %v, want Low", level)
	}
	if l.Pin() != 24 {
		t.Errorf("Pin() = %d, want 24", l.Pin())
	}
}
