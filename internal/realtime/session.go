package realtime

import "encoding/json"

const (
	AudioFormatPCM16 = "pcm16"
	VoiceAlloy       = "alloy"
)

// SessionConfig is the session block of a session.update event.
type SessionConfig struct {
	InputAudioFormat  string   `json:"input_audio_format"`
	OutputAudioFormat string   `json:"output_audio_format"`
	Modalities        []string `json:"modalities"`
	Voice             string   `json:"voice"`
}

type SessionUpdate struct {
	Type    string        `json:"type"`
	Session SessionConfig `json:"session"`
}

// DefaultSessionUpdate is the configuration pushed upstream right after the
// ready event.
func DefaultSessionUpdate() SessionUpdate {
	return SessionUpdate{
		Type: EventSessionUpdate,
		Session: SessionConfig{
			InputAudioFormat:  AudioFormatPCM16,
			OutputAudioFormat: AudioFormatPCM16,
			Modalities:        []string{"text", "audio"},
			Voice:             VoiceAlloy,
		},
	}
}

func (u SessionUpdate) encode() ([]byte, error) {
	return json.Marshal(u)
}
