// Package streaming implements the byte-range video handler (spec section
// 4.12): GET /streaming/video/{jobId} with standard HTTP range semantics,
// tolerant of a file that is still being written to by an in-progress
// download.
package streaming

import (
	"errors"
	"strconv"
	"strings"
)

// ErrUnsatisfiable is returned when the requested range cannot be
// satisfied against the resource's size (HTTP 416).
var ErrUnsatisfiable = errors.New("streaming: range not satisfiable")

// ErrMalformedRange is returned when the Range header is present but not a
// single byte-range-spec this handler understands.
var ErrMalformedRange = errors.New("streaming: malformed range header")

// Range is an inclusive byte range [Start, End] within a resource of a
// known total size.
type Range struct {
	Start int64
	End   int64
}

// Length returns the number of bytes spanned by r.
func (r Range) Length() int64 {
	return r.End - r.Start + 1
}

// ParseRange interprets an HTTP Range header against a resource of the
// given size, following spec section 4.12's three forms:
//
//	bytes=a-b  -- both defined: [a, min(b, size-1)]
//	bytes=a-   -- a only: [a, size-1]
//	bytes=-b   -- suffix form: the last b bytes
//
// An empty header means "no range requested": the full resource,
// [0, size-1]. a >= size returns ErrUnsatisfiable.
func ParseRange(header string, size int64) (Range, error) {
	if header == "" {
		return Range{Start: 0, End: size - 1}, nil
	}
	if size <= 0 {
		return Range{}, ErrUnsatisfiable
	}

	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return Range{}, ErrMalformedRange
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		// Multiple ranges in one request are not supported.
		return Range{}, ErrMalformedRange
	}

	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return Range{}, ErrMalformedRange
	}
	aStr, bStr := spec[:dash], spec[dash+1:]

	switch {
	case aStr == "" && bStr == "":
		return Range{}, ErrMalformedRange
	case aStr == "":
		// Suffix form: the last bStr bytes.
		suffixLen, err := strconv.ParseInt(bStr, 10, 64)
		if err != nil || suffixLen < 0 {
			return Range{}, ErrMalformedRange
		}
		if suffixLen == 0 {
			return Range{}, ErrUnsatisfiable
		}
		start := size - suffixLen
		if start < 0 {
			start = 0
		}
		return Range{Start: start, End: size - 1}, nil
	case bStr == "":
		a, err := strconv.ParseInt(aStr, 10, 64)
		if err != nil || a < 0 {
			return Range{}, ErrMalformedRange
		}
		if a >= size {
			return Range{}, ErrUnsatisfiable
		}
		return Range{Start: a, End: size - 1}, nil
	default:
		a, err1 := strconv.ParseInt(aStr, 10, 64)
		b, err2 := strconv.ParseInt(bStr, 10, 64)
		if err1 != nil || err2 != nil || a < 0 || b < a {
			return Range{}, ErrMalformedRange
		}
		if a >= size {
			return Range{}, ErrUnsatisfiable
		}
		if b > size-1 {
			b = size - 1
		}
		return Range{Start: a, End: b}, nil
	}
}
