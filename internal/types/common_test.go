package types

import (
	"testing"
)

func TestFrameValid(t *testing.T) {
	tests := []struct {
		name  string
		frame Frame
		want  bool
	}{
		{"start", Frame{ExecID: 0, Kind: FrameStart}, true},
		{"stdout", Frame{ExecID: 3, Kind: FrameStdout, Payload: "x"}, true},
		{"stderr", Frame{ExecID: 3, Kind: FrameStderr, Payload: "x"}, true},
		{"done", Frame{ExecID: 1, Kind: FrameDone}, true},
		{"ready without exec id", Frame{ExecID: NoExecID, Kind: FrameReady}, true},
		{"stdout without exec id", Frame{ExecID: NoExecID, Kind: FrameStdout}, false},
		{"unknown kind", Frame{ExecID: 0, Kind: "mesg"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.frame.Valid(); got != tt.want {
				t.Errorf("Valid() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseSignal(t *testing.T) {
	sig, err := ParseSignal("INT")
	if err != nil || sig != SignalInterrupt {
		t.Errorf("ParseSignal(INT) = %v, %v", sig, err)
	}

	sig, err = ParseSignal("KILL")
	if err != nil || sig != SignalKill {
		t.Errorf("ParseSignal(KILL) = %v, %v", sig, err)
	}

	if _, err := ParseSignal("HUP"); err == nil {
		t.Error("Expected error for unsupported signal")
	}
}

func TestHandleSpawned(t *testing.T) {
	if (Handle{PID: FailedPID}).Spawned() {
		t.Error("Handle with FailedPID should not report spawned")
	}
	if !(Handle{PID: 0}).Spawned() {
		t.Error("Handle with PID 0 should report spawned")
	}
}
