// Package transcode implements the media-conversion gateway (spec section
// 4.9): detecting whether an acquired file is already browser-streamable
// and, if not, invoking an external media tool to convert it. Grounded on
// nginx.Run's os/exec invocation pattern (a configurable Binary path,
// exec.Command(args...), captured stdout/stderr) adapted from spawning a
// long-lived server process to running a short-lived conversion
// subprocess to completion, with a temp-file-then-rename handoff so a
// killed or failed conversion never leaves a partial file at the final
// path.
package transcode

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Config configures the external ffmpeg/ffprobe tools and the acceptance
// criteria for "already streamable".
type Config struct {
	Binary       string        `yaml:"binary"`
	ProbeBinary  string        `yaml:"probe_binary"`
	Timeout      time.Duration `yaml:"timeout"`
	VideoCodec   string        `yaml:"video_codec"`
	AudioCodec   string        `yaml:"audio_codec"`

	AllowedContainers  []string `yaml:"allowed_containers"`
	AllowedVideoCodecs []string `yaml:"allowed_video_codecs"`
	AllowedAudioCodecs []string `yaml:"allowed_audio_codecs"`
}

func (c Config) applyDefaults() Config {
	if c.Binary == "" {
		c.Binary = "ffmpeg"
	}
	if c.ProbeBinary == "" {
		c.ProbeBinary = "ffprobe"
	}
	if c.Timeout == 0 {
		c.Timeout = 2 * time.Hour
	}
	if c.VideoCodec == "" {
		c.VideoCodec = "libx264"
	}
	if c.AudioCodec == "" {
		c.AudioCodec = "aac"
	}
	if len(c.AllowedContainers) == 0 {
		c.AllowedContainers = []string{"mov,mp4,m4a,3gp,3g2,mj2", "mp4"}
	}
	if len(c.AllowedVideoCodecs) == 0 {
		c.AllowedVideoCodecs = []string{"h264"}
	}
	if len(c.AllowedAudioCodecs) == 0 {
		c.AllowedAudioCodecs = []string{"aac", "mp3"}
	}
	return c
}

// Gateway decides whether a file needs conversion and performs it.
type Gateway interface {
	NeedsConversion(ctx context.Context, path string) (bool, error)
	Convert(ctx context.Context, in, out string) error
}

// FFmpegGateway shells out to ffprobe/ffmpeg.
type FFmpegGateway struct {
	config Config
}

// NewFFmpegGateway constructs a Gateway backed by the ffmpeg/ffprobe
// binaries named in config.
func NewFFmpegGateway(config Config) *FFmpegGateway {
	return &FFmpegGateway{config: config.applyDefaults()}
}

type probeOutput struct {
	Format struct {
		FormatName string `json:"format_name"`
	} `json:"format"`
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
	} `json:"streams"`
}

func (g *FFmpegGateway) probe(ctx context.Context, path string) (*probeOutput, error) {
	cmd := exec.CommandContext(ctx, g.config.ProbeBinary,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		path,
	)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("probe %s: %s: %s", path, err, stderr.String())
	}

	var out probeOutput
	if err := json.Unmarshal(stdout.Bytes(), &out); err != nil {
		return nil, fmt.Errorf("parse probe output for %s: %w", path, err)
	}
	return &out, nil
}

// NeedsConversion reports whether path's container or any of its video or
// audio streams fall outside the configured allow-lists.
func (g *FFmpegGateway) NeedsConversion(ctx context.Context, path string) (bool, error) {
	info, err := g.probe(ctx, path)
	if err != nil {
		return false, err
	}

	if !containsAny(info.Format.FormatName, g.config.AllowedContainers) {
		return true, nil
	}
	for _, s := range info.Streams {
		switch s.CodecType {
		case "video":
			if !contains(g.config.AllowedVideoCodecs, s.CodecName) {
				return true, nil
			}
		case "audio":
			if !contains(g.config.AllowedAudioCodecs, s.CodecName) {
				return true, nil
			}
		}
	}
	return false, nil
}

// Convert transcodes in to out using the configured video/audio codecs,
// writing to a temp file alongside out and renaming it into place only on
// success. A failed or cancelled run leaves out untouched.
func (g *FFmpegGateway) Convert(ctx context.Context, in, out string) error {
	ctx, cancel := context.WithTimeout(ctx, g.config.Timeout)
	defer cancel()

	tmp := out + ".converting"
	defer os.Remove(tmp)

	if err := os.MkdirAll(filepath.Dir(out), 0755); err != nil {
		return fmt.Errorf("ensure output directory: %w", err)
	}

	cmd := exec.CommandContext(ctx, g.config.Binary,
		"-y",
		"-i", in,
		"-c:v", g.config.VideoCodec,
		"-c:a", g.config.AudioCodec,
		"-movflags", "+faststart",
		tmp,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("convert %s: %s: %s", in, err, stderr.String())
	}

	if err := os.Rename(tmp, out); err != nil {
		return fmt.Errorf("rename converted file into place: %w", err)
	}
	return nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

// containsAny reports whether haystack, treated as a comma-separated set
// (ffprobe reports multi-name format strings like "mov,mp4,m4a,3gp,3g2,mj2"),
// shares any element with needles.
func containsAny(haystack string, needles []string) bool {
	parts := splitComma(haystack)
	for _, needle := range needles {
		if haystack == needle || contains(parts, needle) {
			return true
		}
	}
	return false
}

func splitComma(s string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == ',' {
			parts = append(parts, s[start:i])
			start = i + 1
		}
	}
	parts = append(parts, s[start:])
	return parts
}
