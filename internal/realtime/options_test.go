package realtime

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestVoiceMarshal(t *testing.T) {
	temp := 0.8
	tests := []struct {
		name  string
		voice Voice
		want  string
	}{
		{name: "bare", voice: Voice{Name: "en-US-AvaNeural"}, want: `"en-US-AvaNeural"`},
		{
			name:  "typed",
			voice: Voice{Name: "en-US-Ava:DragonHDLatestNeural", Type: "azure-standard", Temperature: &temp},
			want:  `{"name":"en-US-Ava:DragonHDLatestNeural","type":"azure-standard","temperature":0.8}`,
		},
		{
			name:  "custom",
			voice: Voice{Name: "sven", Type: "azure-custom", EndpointID: "dep-1"},
			want:  `{"name":"sven","type":"azure-custom","endpoint_id":"dep-1"}`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := json.Marshal(tt.voice)
			if err != nil {
				t.Fatalf("Marshal() error = %v", err)
			}
			if string(got) != tt.want {
				t.Fatalf("got = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSessionOptionsSerializesDisabledFeaturesAsNull(t *testing.T) {
	got, err := json.Marshal(SessionOptions{Instructions: "x"})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	for _, part := range []string{`"turn_detection":null`, `"input_audio_noise_reduction":null`, `"input_audio_echo_cancellation":null`} {
		if !strings.Contains(string(got), part) {
			t.Fatalf("got = %s, missing %s", got, part)
		}
	}
	if strings.Contains(string(got), `"voice"`) {
		t.Fatalf("got = %s, want voice omitted", got)
	}
}
