package bencode

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
)

// Encoder writes bencode values to an underlying writer. Dictionary keys are
// always emitted in lexicographic byte order, regardless of the order they
// were inserted in -- this is load-bearing for info-hash stability (spec
// section 4.1, P1/P2).
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder creates an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// Encode writes v and flushes the underlying writer.
func (e *Encoder) Encode(v *Value) error {
	if err := e.encodeValue(v); err != nil {
		return err
	}
	return e.w.Flush()
}

// Marshal encodes v and returns the resulting bytes.
func Marshal(v *Value) ([]byte, error) {
	var buf writerBuffer
	if err := NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.b, nil
}

type writerBuffer struct {
	b []byte
}

func (wb *writerBuffer) Write(p []byte) (int, error) {
	wb.b = append(wb.b, p...)
	return len(p), nil
}

func (e *Encoder) encodeValue(v *Value) error {
	if v == nil {
		return fmt.Errorf("bencode: cannot encode nil value")
	}
	switch v.Kind {
	case KindInt:
		return e.encodeInt(v.Int)
	case KindBytes:
		return e.encodeBytes(v.Bytes)
	case KindList:
		return e.encodeList(v.List)
	case KindDict:
		return e.encodeDict(v.Dict)
	default:
		return fmt.Errorf("bencode: unknown value kind %d", v.Kind)
	}
}

func (e *Encoder) encodeInt(n int64) error {
	if _, err := e.w.WriteString("i"); err != nil {
		return err
	}
	if _, err := e.w.WriteString(strconv.FormatInt(n, 10)); err != nil {
		return err
	}
	_, err := e.w.WriteString("e")
	return err
}

func (e *Encoder) encodeBytes(b []byte) error {
	if _, err := e.w.WriteString(strconv.Itoa(len(b))); err != nil {
		return err
	}
	if _, err := e.w.WriteString(":"); err != nil {
		return err
	}
	_, err := e.w.Write(b)
	return err
}

func (e *Encoder) encodeList(items []*Value) error {
	if _, err := e.w.WriteString("l"); err != nil {
		return err
	}
	for _, item := range items {
		if err := e.encodeValue(item); err != nil {
			return err
		}
	}
	_, err := e.w.WriteString("e")
	return err
}

func (e *Encoder) encodeDict(dict map[string]*Value) error {
	if _, err := e.w.WriteString("d"); err != nil {
		return err
	}
	keys := make([]string, 0, len(dict))
	for k := range dict {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := e.encodeBytes([]byte(k)); err != nil {
			return err
		}
		if err := e.encodeValue(dict[k]); err != nil {
			return err
		}
	}
	_, err := e.w.WriteString("e")
	return err
}
