// Package subtitle implements the subtitle store (spec section 4.11):
// per-video/per-language records and SRT-to-WebVTT conversion. Grounded
// on storage/migrations/00003_subtitle_init.go's subtitle table and, for
// the store shape itself, the same sqlx idiom as job/store.go and
// cache/store.go.
package subtitle

import (
	"bytes"
	"errors"
	"path/filepath"
	"regexp"
)

// ErrEmptySource is returned when converting an empty or missing SRT
// input -- spec section 4.11: "Empty or missing source => fail".
var ErrEmptySource = errors.New("subtitle: empty source")

// srtTimestampPattern matches one SRT cue timing line's two timestamps,
// each comma-separated milliseconds, and captures the four fields needed
// to rewrite them into WebVTT's dot-separated form.
var srtTimestampPattern = regexp.MustCompile(
	`(\d{2}:\d{2}:\d{2}),(\d{3}) --> (\d{2}:\d{2}:\d{2}),(\d{3})`,
)

// ConvertSRTToVTT converts srt (SubRip) subtitle content to WebVTT,
// prepending the "WEBVTT" header and rewriting comma-separated
// timestamps to WebVTT's dot-separated form. Everything else in the
// source is preserved verbatim.
func ConvertSRTToVTT(srt []byte) ([]byte, error) {
	if len(bytes.TrimSpace(srt)) == 0 {
		return nil, ErrEmptySource
	}

	converted := srtTimestampPattern.ReplaceAll(srt, []byte(`$1.$2 --> $3.$4`))

	var out bytes.Buffer
	out.WriteString("WEBVTT\n\n")
	out.Write(converted)
	return out.Bytes(), nil
}

// Format is the on-disk subtitle encoding.
type Format string

const (
	FormatSRT Format = "srt"
	FormatVTT Format = "vtt"
)

// Record is a durable (video_id, language) subtitle entry, backed by the
// subtitle table.
type Record struct {
	VideoID  string
	Language string
	FilePath string
	Format   Format
	Source   string
}

// Path returns the on-disk location of a subtitle file: spec section
// 4.11's "<base>/subtitles/<video_id>/<language>.<format>".
func Path(basePath, videoID, language string, format Format) string {
	return filepath.Join(basePath, "subtitles", videoID, language+"."+string(format))
}
