package streaming

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRangeNoHeaderReturnsWholeResource(t *testing.T) {
	require := require.New(t)

	r, err := ParseRange("", 1000)
	require.NoError(err)
	require.Equal(Range{Start: 0, End: 999}, r)
}

func TestParseRangeStartOnly(t *testing.T) {
	require := require.New(t)

	r, err := ParseRange("bytes=500-", 1000)
	require.NoError(err)
	require.Equal(Range{Start: 500, End: 999}, r)
}

func TestParseRangeSuffixForm(t *testing.T) {
	require := require.New(t)

	r, err := ParseRange("bytes=-200", 1000)
	require.NoError(err)
	require.Equal(Range{Start: 800, End: 999}, r)
}

func TestParseRangeSuffixLargerThanSizeClampsToZero(t *testing.T) {
	require := require.New(t)

	r, err := ParseRange("bytes=-5000", 1000)
	require.NoError(err)
	require.Equal(Range{Start: 0, End: 999}, r)
}

func TestParseRangeBothDefined(t *testing.T) {
	require := require.New(t)

	r, err := ParseRange("bytes=100-199", 1000)
	require.NoError(err)
	require.Equal(Range{Start: 100, End: 199}, r)
}

func TestParseRangeBothDefinedClampsEndToSize(t *testing.T) {
	require := require.New(t)

	r, err := ParseRange("bytes=900-5000", 1000)
	require.NoError(err)
	require.Equal(Range{Start: 900, End: 999}, r)
}

func TestParseRangeStartBeyondSizeIsUnsatisfiable(t *testing.T) {
	require := require.New(t)

	_, err := ParseRange("bytes=1000-", 1000)
	require.Equal(ErrUnsatisfiable, err)
}

func TestParseRangeMalformedHeader(t *testing.T) {
	require := require.New(t)

	_, err := ParseRange("nonsense", 1000)
	require.Equal(ErrMalformedRange, err)

	_, err = ParseRange("bytes=-", 1000)
	require.Equal(ErrMalformedRange, err)

	_, err = ParseRange("bytes=200-100", 1000)
	require.Equal(ErrMalformedRange, err)
}

func TestParseRangeMultipleRangesUnsupported(t *testing.T) {
	require := require.New(t)

	_, err := ParseRange("bytes=0-99,200-299", 1000)
	require.Equal(ErrMalformedRange, err)
}

func TestRangeLength(t *testing.T) {
	require := require.New(t)
	require.Equal(int64(100), Range{Start: 0, End: 99}.Length())
}
