package bridge

import (
	"errors"
	"math"
	"testing"

	micvad "github.com/cortexswarm/micvad-go"
)

func TestPayloads(t *testing.T) {
	cases := []struct {
		name string
		ev   Event
		want string
	}{
		{"speech start", Event{Kind: KindSpeechStart}, ""},
		{"real start", Event{Kind: KindRealSpeechStart}, ""},
		{"misfire", Event{Kind: KindMisfire}, ""},
		{"speech end", Event{Kind: KindSpeechEnd, Audio: []float32{0.1, -0.2, 0.3}}, `{"audioData":[0.1,-0.2,0.3]}`},
		{"empty speech end", Event{Kind: KindSpeechEnd}, `{"audioData":[]}`},
		{"frame", Event{
			Kind:          KindFrameProcessed,
			Probabilities: micvad.SpeechProbabilities{IsSpeech: 0.87, NotSpeech: 0.13},
			Frame:         []float32{0, 0.05},
		}, `{"probabilities":{"isSpeech":0.87,"notSpeech":0.13},"frame":[0,0.05]}`},
		{"error", Event{Kind: KindError, Message: "boom"}, `{"error":"boom"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.ev.Payload()
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Fatalf("Payload() = %s, want %s", got, tc.want)
			}
		})
	}
}

func TestPayloadErrors(t *testing.T) {
	if _, err := (Event{Kind: "onSomething"}).Payload(); err == nil {
		t.Error("unknown kind should fail")
	}
	nan := float32(math.NaN())
	if _, err := (Event{Kind: KindFrameProcessed, Frame: []float32{nan}}).Payload(); err == nil {
		t.Error("NaN sample should fail to encode")
	}
}

type named struct{}

func (named) String() string { return "stringer failure" }

func TestErrorEventDescribe(t *testing.T) {
	cases := []struct {
		in   any
		want string
	}{
		{errors.New("wrapped failure"), "wrapped failure"},
		{"plain text", "plain text"},
		{named{}, "stringer failure"},
		{42, "42"},
		{nil, "unknown error"},
	}
	for _, tc := range cases {
		if got := ErrorEvent(tc.in).Message; got != tc.want {
			t.Errorf("ErrorEvent(%#v).Message = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestKindsAreDistinct(t *testing.T) {
	seen := map[Kind]bool{}
	for _, k := range Kinds {
		if seen[k] {
			t.Fatalf("duplicate kind %s", k)
		}
		seen[k] = true
	}
	if len(seen) != 6 {
		t.Fatalf("got %d kinds, want 6", len(seen))
	}
}
