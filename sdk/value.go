package sdk

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is the wire layout for timestamp parameters, rendered in
// local time with second precision.
const TimestampLayout = "2006-01-02 15:04:05"

// Kind identifies which variant a Value holds.
type Kind int

const (
	// KindAbsent marks a parameter that was not supplied. It is never signed or sent.
	KindAbsent Kind = iota
	// KindText holds an already decoded string
	KindText
	// KindFile holds a binary stream sent as a multipart file part
	KindFile
	// KindTime holds a timestamp
	KindTime
	// KindFloat holds a floating-point number
	KindFloat
	// KindInt holds a signed or unsigned integer
	KindInt
	// KindBool holds a boolean
	KindBool
	// KindOther holds anything else; it is stringified on a best-effort basis
	KindOther
)

// String returns the string representation of the kind
func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindFile:
		return "file"
	case KindTime:
		return "time"
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindOther:
		return "other"
	default:
		return "absent"
	}
}

// Value is a tagged parameter value. The zero Value is absent.
//
// Values are normally produced implicitly by ValueOf when a Params map is
// passed to Call, but they can also be constructed directly:
//
//	params := sdk.Params{
//	    "num_iid":  sdk.Int(520000),
//	    "modified": sdk.Time(time.Now()),
//	    "image":    sdk.FileValue(file),
//	}
type Value struct {
	kind  Kind
	text  string
	num   float64
	i     string
	b     bool
	t     time.Time
	file  *File
	other interface{}
}

// Text returns a text value
func Text(s string) Value { return Value{kind: KindText, text: s} }

// Float returns a floating-point value
func Float(f float64) Value { return Value{kind: KindFloat, num: f} }

// Int returns a signed integer value
func Int(i int64) Value { return Value{kind: KindInt, i: strconv.FormatInt(i, 10)} }

// Uint returns an unsigned integer value
func Uint(u uint64) Value { return Value{kind: KindInt, i: strconv.FormatUint(u, 10)} }

// Bool returns a boolean value
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Time returns a timestamp value
func Time(t time.Time) Value { return Value{kind: KindTime, t: t} }

// FileValue returns a binary stream value. A nil file is absent.
func FileValue(f *File) Value {
	if f == nil {
		return Value{}
	}
	return Value{kind: KindFile, file: f}
}

// Other wraps an arbitrary value that is stringified with fmt.Sprint.
func Other(v interface{}) Value {
	if v == nil {
		return Value{}
	}
	return Value{kind: KindOther, other: v}
}

// Kind reports the variant held by v
func (v Value) Kind() Kind { return v.kind }

// File returns the file held by v, or nil if v is not a file value
func (v Value) File() *File { return v.file }

// ValueOf classifies a raw Go value into a Value.
//
// The match order matters: streams are recognised before anything else, and
// booleans before integers.
func ValueOf(raw interface{}) Value {
	switch x := raw.(type) {
	case nil:
		return Value{}
	case Value:
		return x
	case *Value:
		if x == nil {
			return Value{}
		}
		return *x
	case *File:
		return FileValue(x)
	case *os.File:
		if x == nil {
			return Value{}
		}
		return FileValue(NewFile(filepath.Base(x.Name()), x))
	case io.ReadSeeker:
		return FileValue(NewFile("", x))
	case io.Reader:
		return FileValue(bufferFile(x))
	case time.Time:
		return Time(x)
	case *time.Time:
		if x == nil {
			return Value{}
		}
		return Time(*x)
	case string:
		return Text(x)
	case []byte:
		return Text(string(x))
	case float64:
		return Float(x)
	case float32:
		return Float(float64(x))
	case bool:
		return Bool(x)
	case int:
		return Int(int64(x))
	case int8:
		return Int(int64(x))
	case int16:
		return Int(int64(x))
	case int32:
		return Int(int64(x))
	case int64:
		return Int(x)
	case uint:
		return Uint(uint64(x))
	case uint8:
		return Uint(uint64(x))
	case uint16:
		return Uint(uint64(x))
	case uint32:
		return Uint(uint64(x))
	case uint64:
		return Uint(x)
	default:
		return Other(x)
	}
}

// canonical renders a non-file, non-absent value in its wire form.
func (v Value) canonical() string {
	switch v.kind {
	case KindText:
		return v.text
	case KindTime:
		return v.t.In(time.Local).Format(TimestampLayout)
	case KindFloat:
		return strconv.FormatFloat(v.num, 'f', 2, 64)
	case KindBool:
		if v.b {
			return "true"
		}
		return "false"
	case KindInt:
		return v.i
	case KindOther:
		return fmt.Sprint(v.other)
	}
	return ""
}

// Params holds the named parameters of a single call. Values may be any Go
// value accepted by ValueOf. A "__" in a name is sent as ".".
type Params map[string]interface{}

// clone returns a shallow copy so that injected envelope fields never leak
// back into the caller's map.
func (p Params) clone() Params {
	out := make(Params, len(p)+2)
	for k, v := range p {
		out[k] = v
	}
	return out
}

// ParamName translates a call-syntax parameter name into its wire name.
func ParamName(name string) string {
	return strings.ReplaceAll(name, "__", ".")
}

// canonicalize splits params into signed string fields and unsigned file
// fields, dropping absent values.
func canonicalize(params Params) (map[string]string, map[string]*File) {
	fields := make(map[string]string, len(params))
	files := make(map[string]*File)

	for name, raw := range params {
		key := ParamName(name)
		v := ValueOf(raw)
		switch v.kind {
		case KindAbsent:
			continue
		case KindFile:
			f := v.file
			if f.Name == "" {
				f = &File{Name: key, Reader: f.Reader}
			}
			files[key] = f
		default:
			fields[key] = v.canonical()
		}
	}
	return fields, files
}

// File is a binary stream parameter. The reader is rewound to its start
// before every attempt, so it must be seekable.
type File struct {
	// Name is the file name sent in the multipart part header
	Name string
	// Reader supplies the content
	Reader io.ReadSeeker
}

// NewFile wraps a seekable reader as a file parameter
func NewFile(name string, r io.ReadSeeker) *File {
	return &File{Name: name, Reader: r}
}

// OpenFile opens the file at path as a file parameter. The caller should
// Close it once the call has returned.
func OpenFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return NewFile(filepath.Base(path), f), nil
}

// bufferFile reads a non-seekable stream into memory so it can be replayed.
func bufferFile(r io.Reader) *File {
	data, err := io.ReadAll(r)
	if err != nil {
		return NewFile("", &failingReader{err: err})
	}
	return NewFile("", bytes.NewReader(data))
}

// Rewind seeks the reader back to its start
func (f *File) Rewind() error {
	if f.Reader == nil {
		return fmt.Errorf("file %q has no reader", f.Name)
	}
	_, err := f.Reader.Seek(0, io.SeekStart)
	return err
}

// Close closes the underlying reader if it is closable
func (f *File) Close() error {
	if c, ok := f.Reader.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// String renders the file for diagnostics without its content
func (f *File) String() string {
	return fmt.Sprintf("<file %s>", f.Name)
}

// failingReader surfaces a buffering error on first use.
type failingReader struct {
	err error
}

func (r *failingReader) Read([]byte) (int, error) { return 0, r.err }
func (r *failingReader) Seek(int64, int) (int64, error) { return 0, r.err }
