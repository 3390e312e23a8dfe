package encoder

import "testing"

const sampleProbe = `{
  "streams": [
    {"index": 0, "codec_name": "mjpeg", "codec_type": "video", "width": 300, "height": 300, "disposition": {"attached_pic": 1}},
    {"index": 1, "codec_name": "hevc", "codec_type": "video", "width": 4000, "height": 3000, "duration": "11.2"},
    {"index": 2, "codec_name": "aac", "codec_type": "audio"}
  ],
  "format": {"format_name": "mov,mp4,m4a,3gp,3g2,mj2", "duration": "12.480000", "size": "5242880"}
}`

func TestParseJSON(t *testing.T) {
	pr, err := ParseJSON([]byte(sampleProbe))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if pr.Width != 4000 || pr.Height != 3000 {
		t.Errorf("expected 4000x3000 (cover art skipped), got %dx%d", pr.Width, pr.Height)
	}
	if pr.VideoCodec != "hevc" {
		t.Errorf("expected hevc, got %s", pr.VideoCodec)
	}
	if pr.DurationSeconds != 12.48 {
		t.Errorf("expected format duration 12.48, got %v", pr.DurationSeconds)
	}
	if !pr.HasAudio {
		t.Error("expected audio stream")
	}
}

func TestParseJSON_StreamDurationFallback(t *testing.T) {
	pr, err := ParseJSON([]byte(`{"streams":[{"codec_type":"video","width":640,"height":480,"duration":"3.5"}],"format":{}}`))
	if err != nil {
		t.Fatalf("ParseJSON: %v", err)
	}
	if pr.DurationSeconds != 3.5 {
		t.Errorf("expected 3.5, got %v", pr.DurationSeconds)
	}
	if pr.HasAudio {
		t.Error("expected no audio")
	}
}

func TestParseJSON_Invalid(t *testing.T) {
	if _, err := ParseJSON([]byte("not json")); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestDisplaySize(t *testing.T) {
	tests := []struct {
		name  string
		json  string
		wantW int
		wantH int
	}{
		{"no rotation", `{"streams":[{"codec_type":"video","width":1920,"height":1080}]}`, 1920, 1080},
		{"display matrix -90", `{"streams":[{"codec_type":"video","width":1920,"height":1080,"side_data_list":[{"side_data_type":"Display Matrix","rotation":-90}]}]}`, 1080, 1920},
		{"rotate tag 180", `{"streams":[{"codec_type":"video","width":1920,"height":1080,"tags":{"rotate":"180"}}]}`, 1920, 1080},
		{"rotate tag 270", `{"streams":[{"codec_type":"video","width":1920,"height":1080,"tags":{"rotate":"270"}}]}`, 1080, 1920},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pr, err := ParseJSON([]byte(tt.json))
			if err != nil {
				t.Fatalf("ParseJSON: %v", err)
			}
			if w, h := pr.DisplaySize(); w != tt.wantW || h != tt.wantH {
				t.Errorf("DisplaySize() = %dx%d, want %dx%d", w, h, tt.wantW, tt.wantH)
			}
		})
	}
}
