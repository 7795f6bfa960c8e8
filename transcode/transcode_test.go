package transcode

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// writeFakeBinary writes an executable shell script to dir/name that
// prints output to stdout, letting tests exercise the gateway's argument
// construction and parsing without a real ffmpeg/ffprobe installation.
func writeFakeBinary(t *testing.T, dir, name, script string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0755))
	return path
}

func TestNeedsConversionFalseForAllowedCodecs(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	probe := writeFakeBinary(t, dir, "ffprobe", `cat <<'EOF'
{"format":{"format_name":"mov,mp4,m4a,3gp,3g2,mj2"},"streams":[{"codec_type":"video","codec_name":"h264"},{"codec_type":"audio","codec_name":"aac"}]}
EOF`)

	g := NewFFmpegGateway(Config{ProbeBinary: probe})

	needs, err := g.NeedsConversion(context.Background(), filepath.Join(dir, "in.mp4"))
	require.NoError(err)
	require.False(needs)
}

func TestNeedsConversionTrueForDisallowedVideoCodec(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	probe := writeFakeBinary(t, dir, "ffprobe", `cat <<'EOF'
{"format":{"format_name":"matroska,webm"},"streams":[{"codec_type":"video","codec_name":"hevc"},{"codec_type":"audio","codec_name":"aac"}]}
EOF`)

	g := NewFFmpegGateway(Config{ProbeBinary: probe})

	needs, err := g.NeedsConversion(context.Background(), filepath.Join(dir, "in.mkv"))
	require.NoError(err)
	require.True(needs)
}

func TestNeedsConversionTrueForDisallowedContainer(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	probe := writeFakeBinary(t, dir, "ffprobe", `cat <<'EOF'
{"format":{"format_name":"avi"},"streams":[{"codec_type":"video","codec_name":"h264"},{"codec_type":"audio","codec_name":"aac"}]}
EOF`)

	g := NewFFmpegGateway(Config{ProbeBinary: probe})

	needs, err := g.NeedsConversion(context.Background(), filepath.Join(dir, "in.avi"))
	require.NoError(err)
	require.True(needs)
}

func TestNeedsConversionPropagatesProbeFailure(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	probe := writeFakeBinary(t, dir, "ffprobe", `echo "no such file" >&2; exit 1`)

	g := NewFFmpegGateway(Config{ProbeBinary: probe})

	_, err := g.NeedsConversion(context.Background(), filepath.Join(dir, "missing.mp4"))
	require.Error(err)
}

func TestConvertRenamesOnSuccess(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	ffmpeg := writeFakeBinary(t, dir, "ffmpeg", `
# last argument is the output path
for last; do true; done
echo "converted" > "$last"
`)

	g := NewFFmpegGateway(Config{Binary: ffmpeg})

	in := filepath.Join(dir, "in.mkv")
	require.NoError(os.WriteFile(in, []byte("source"), 0644))
	out := filepath.Join(dir, "out", "video.mp4")

	require.NoError(g.Convert(context.Background(), in, out))

	data, err := os.ReadFile(out)
	require.NoError(err)
	require.Equal("converted\n", string(data))

	_, err = os.Stat(out + ".converting")
	require.True(os.IsNotExist(err))
}

func TestConvertLeavesNoPartialFileOnFailure(t *testing.T) {
	require := require.New(t)

	dir := t.TempDir()
	ffmpeg := writeFakeBinary(t, dir, "ffmpeg", `
for last; do true; done
echo "partial" > "$last"
echo "encode error" >&2
exit 1
`)

	g := NewFFmpegGateway(Config{Binary: ffmpeg})

	in := filepath.Join(dir, "in.mkv")
	require.NoError(os.WriteFile(in, []byte("source"), 0644))
	out := filepath.Join(dir, "video.mp4")

	err := g.Convert(context.Background(), in, out)
	require.Error(err)

	_, statErr := os.Stat(out)
	require.True(os.IsNotExist(statErr))
	_, statErr = os.Stat(out + ".converting")
	require.True(os.IsNotExist(statErr))
}

func TestContainsAnyMatchesCommaSeparatedFormatNames(t *testing.T) {
	require := require.New(t)

	require.True(containsAny("mov,mp4,m4a,3gp,3g2,mj2", []string{"mp4"}))
	require.False(containsAny("avi", []string{"mp4", "mov"}))
}
