package elevenlabs

import (
	"context"
	"strings"
	"testing"

	"github.com/knowledgehunter6/main-line/pkg/types"
)

// ---- constructor and validation ----

func TestNew_Validation(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
	p, err := New("xi-test", WithModel("eleven_turbo_v2"), WithOutputFormat("pcm_16000"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "eleven_turbo_v2" {
		t.Errorf("model = %q", p.model)
	}
	if p.outputFormat != "pcm_16000" {
		t.Errorf("outputFormat = %q", p.outputFormat)
	}
}

func TestSynthesize_Validation(t *testing.T) {
	p, err := New("xi-test")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := p.Synthesize(context.Background(), "hello", types.VoiceProfile{}); err == nil {
		t.Error("expected error for missing voice ID")
	}
	if _, err := p.Synthesize(context.Background(), "", types.VoiceProfile{ID: "v1"}); err == nil {
		t.Error("expected error for empty text")
	}
}

// ---- URL construction ----

func TestBuildURLForVoice(t *testing.T) {
	url := buildURLForVoice("voice-abc123", "eleven_flash_v2_5", "mp3_44100_128")
	if !strings.Contains(url, "voice-abc123") {
		t.Errorf("URL missing voice ID: %s", url)
	}
	if !strings.Contains(url, "model_id=eleven_flash_v2_5") {
		t.Errorf("URL missing model: %s", url)
	}
	if !strings.Contains(url, "output_format=mp3_44100_128") {
		t.Errorf("URL missing output format: %s", url)
	}
	if !strings.HasPrefix(url, "wss://") {
		t.Errorf("expected wss scheme: %s", url)
	}
}

// ---- MIME mapping ----

func TestMimeForFormat(t *testing.T) {
	cases := []struct {
		format, want string
	}{
		{"mp3_44100_128", "audio/mpeg"},
		{"pcm_16000", "audio/pcm"},
		{"ulaw_8000", "application/octet-stream"},
	}
	for _, c := range cases {
		if got := mimeForFormat(c.format); got != c.want {
			t.Errorf("mimeForFormat(%q) = %q, want %q", c.format, got, c.want)
		}
	}
}

// ---- voices response parsing ----

func TestVoiceProfiles(t *testing.T) {
	vr := voicesResponse{
		Voices: []elevenLabsVoice{
			{
				VoiceID:  "v-1",
				Name:     "Rachel",
				Category: "premade",
				Labels:   map[string]string{"accent": "american", "gender": "female"},
			},
		},
	}
	profiles := voiceProfiles(vr)
	if len(profiles) != 1 {
		t.Fatalf("expected 1 profile, got %d", len(profiles))
	}
	p := profiles[0]
	if p.ID != "v-1" || p.Name != "Rachel" || p.Provider != "elevenlabs" {
		t.Errorf("unexpected profile: %+v", p)
	}
	if p.Metadata["category"] != "premade" {
		t.Errorf("category not carried into metadata: %+v", p.Metadata)
	}
	if p.Metadata["accent"] != "american" {
		t.Errorf("label not carried into metadata: %+v", p.Metadata)
	}
}
