package subtitle

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConvertSRTToVTTRewritesTimestampsAndAddsHeader(t *testing.T) {
	require := require.New(t)

	srt := "1\n00:00:01,000 --> 00:00:04,500\nHello there.\n\n" +
		"2\n00:00:05,200 --> 00:00:07,000\nSecond line.\n"

	vtt, err := ConvertSRTToVTT([]byte(srt))
	require.NoError(err)

	expected := "WEBVTT\n\n1\n00:00:01.000 --> 00:00:04.500\nHello there.\n\n" +
		"2\n00:00:05.200 --> 00:00:07.000\nSecond line.\n"
	require.Equal(expected, string(vtt))
}

func TestConvertSRTToVTTEmptySourceFails(t *testing.T) {
	require := require.New(t)

	_, err := ConvertSRTToVTT(nil)
	require.Equal(ErrEmptySource, err)

	_, err = ConvertSRTToVTT([]byte("   \n\t  "))
	require.Equal(ErrEmptySource, err)
}

func TestConvertSRTToVTTPreservesNonTimestampContent(t *testing.T) {
	require := require.New(t)

	srt := "1\n00:00:01,000 --> 00:00:02,000\n<i>Italic cue</i> with punctuation, and a comma.\n"
	vtt, err := ConvertSRTToVTT([]byte(srt))
	require.NoError(err)
	require.Contains(string(vtt), "<i>Italic cue</i> with punctuation, and a comma.")
}

func TestPathMatchesSpecLayout(t *testing.T) {
	require := require.New(t)

	got := Path("/data", "video-1", "en", FormatVTT)
	require.Equal("/data/subtitles/video-1/en.vtt", got)
}
