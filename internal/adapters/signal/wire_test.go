package signal

import (
	"encoding/json"
	"testing"
)

func TestEnvelopeDecoding(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		check func(t *testing.T, e *Envelope)
	}{
		{
			name: "user joined",
			raw:  `{"type":"user_joined","user_id":"u1","username":"alice","name":"Alice"}`,
			check: func(t *testing.T, e *Envelope) {
				if e.Type != MsgUserJoined || e.UserID != "u1" || e.Username != "alice" || e.Name != "Alice" {
					t.Fatalf("decoded %+v", e)
				}
			},
		},
		{
			name: "user left",
			raw:  `{"type":"user_left","user_id":"u1"}`,
			check: func(t *testing.T, e *Envelope) {
				if e.Type != MsgUserLeft || e.UserID != "u1" {
					t.Fatalf("decoded %+v", e)
				}
			},
		},
		{
			name: "webrtc signal keeps payload opaque",
			raw:  `{"type":"webrtc_signal","user_id":"u1","target_user_id":"u2","signal_type":"ice_candidate","signal_data":{"candidate":"foo","sdpMid":"0"}}`,
			check: func(t *testing.T, e *Envelope) {
				if e.Type != MsgWebRTCSignal || e.SignalType != SignalCandidate || e.TargetUserID != "u2" {
					t.Fatalf("decoded %+v", e)
				}
				var payload map[string]any
				if err := json.Unmarshal(e.SignalData, &payload); err != nil {
					t.Fatalf("signal_data not passed through: %v", err)
				}
				if payload["candidate"] != "foo" {
					t.Fatalf("payload = %v", payload)
				}
			},
		},
		{
			name: "mic status explicit",
			raw:  `{"type":"mic_status","user_id":"u1","is_muted":false}`,
			check: func(t *testing.T, e *Envelope) {
				if e.Muted() {
					t.Fatal("explicit is_muted:false read as muted")
				}
			},
		},
		{
			name: "mic status defaults to muted when absent",
			raw:  `{"type":"mic_status","user_id":"u1"}`,
			check: func(t *testing.T, e *Envelope) {
				if !e.Muted() {
					t.Fatal("absent is_muted should read as muted")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var e Envelope
			if err := json.Unmarshal([]byte(tt.raw), &e); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			tt.check(t, &e)
		})
	}
}

func TestNewSignalShape(t *testing.T) {
	env := NewSignal("u2", SignalOffer, json.RawMessage(`{"type":"offer"}`))
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var round map[string]any
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if round["type"] != "webrtc_signal" || round["target_user_id"] != "u2" || round["signal_type"] != "offer" {
		t.Fatalf("wire shape = %v", round)
	}
	if _, present := round["is_muted"]; present {
		t.Fatal("is_muted leaked into a signal envelope")
	}
}

func TestNewMicStatusCarriesExplicitFalse(t *testing.T) {
	data, err := json.Marshal(NewMicStatus(false))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var round map[string]any
	if err := json.Unmarshal(data, &round); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	// false must survive marshaling; receivers default a missing field to muted
	v, present := round["is_muted"]
	if !present || v != false {
		t.Fatalf("is_muted = %v (present=%v), want explicit false", v, present)
	}
}
