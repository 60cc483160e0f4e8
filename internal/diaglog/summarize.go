package diaglog

import "encoding/json"

// Summarize reduces an event payload to what is worth keeping on disk: the
// error text for onError, sample counts and probabilities for audio events.
// Payloads that are empty or not JSON yield nil.
func Summarize(handler, payload string) any {
	if payload == "" {
		return nil
	}
	switch handler {
	case "onError":
		var p struct {
			Error string `json:"error"`
		}
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil
		}
		return map[string]any{"error": p.Error}
	case "onSpeechEnd":
		var p struct {
			AudioData []float32 `json:"audioData"`
		}
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil
		}
		return map[string]any{"samples": len(p.AudioData)}
	case "onFrameProcessed":
		var p struct {
			Probabilities struct {
				IsSpeech float32 `json:"isSpeech"`
			} `json:"probabilities"`
			Frame []float32 `json:"frame"`
		}
		if err := json.Unmarshal([]byte(payload), &p); err != nil {
			return nil
		}
		return map[string]any{"is_speech": p.Probabilities.IsSpeech, "samples": len(p.Frame)}
	default:
		return map[string]any{"bytes": len(payload)}
	}
}
