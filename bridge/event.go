package bridge

import (
	"encoding/json"
	"fmt"

	micvad "github.com/cortexswarm/micvad-go"
)

// Kind names an event; the value is the handler name the host receives.
type Kind string

const (
	KindSpeechStart     Kind = "onSpeechStart"
	KindRealSpeechStart Kind = "onRealSpeechStart"
	KindSpeechEnd       Kind = "onSpeechEnd"
	KindMisfire         Kind = "onVADMisfire"
	KindFrameProcessed  Kind = "onFrameProcessed"
	KindError           Kind = "onError"
)

// Kinds lists every event kind in a stable order.
var Kinds = []Kind{KindSpeechStart, KindRealSpeechStart, KindSpeechEnd, KindMisfire, KindFrameProcessed, KindError}

// Event is one relayed occurrence. Only the fields of its Kind are set.
type Event struct {
	Kind Kind

	Audio         []float32                  // KindSpeechEnd
	Probabilities micvad.SpeechProbabilities // KindFrameProcessed
	Frame         []float32                  // KindFrameProcessed
	Message       string                     // KindError
}

type speechEndPayload struct {
	AudioData []float32 `json:"audioData"`
}

type probabilitiesPayload struct {
	IsSpeech  float32 `json:"isSpeech"`
	NotSpeech float32 `json:"notSpeech"`
}

type frameProcessedPayload struct {
	Probabilities probabilitiesPayload `json:"probabilities"`
	Frame         []float32            `json:"frame"`
}

type errorPayload struct {
	Error string `json:"error"`
}

// Payload serializes the event for the host. Start, real start and misfire
// carry an empty payload; the others are JSON objects. Samples are encoded as
// float32 so they decode back to the same float32 values.
func (e Event) Payload() (string, error) {
	var v any
	switch e.Kind {
	case KindSpeechStart, KindRealSpeechStart, KindMisfire:
		return "", nil
	case KindSpeechEnd:
		v = speechEndPayload{AudioData: nonNil(e.Audio)}
	case KindFrameProcessed:
		v = frameProcessedPayload{
			Probabilities: probabilitiesPayload{
				IsSpeech:  e.Probabilities.IsSpeech,
				NotSpeech: e.Probabilities.NotSpeech,
			},
			Frame: nonNil(e.Frame),
		}
	case KindError:
		v = errorPayload{Error: e.Message}
	default:
		return "", fmt.Errorf("bridge: unknown event kind %q", e.Kind)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("bridge: encode %s: %w", e.Kind, err)
	}
	return string(data), nil
}

func nonNil(s []float32) []float32 {
	if s == nil {
		return []float32{}
	}
	return s
}

// ErrorEvent builds an Error event from any failure representation.
func ErrorEvent(v any) Event {
	return Event{Kind: KindError, Message: describe(v)}
}

// describe reduces heterogeneous error values to one descriptive string.
func describe(v any) string {
	switch e := v.(type) {
	case nil:
		return "unknown error"
	case string:
		return e
	case error:
		return e.Error()
	case fmt.Stringer:
		return e.String()
	default:
		return fmt.Sprint(v)
	}
}
