package ssh

import (
	"encoding/binary"
	"fmt"
	"reflect"
	"strings"
	"unicode/utf8"
)

// NameList is an RFC 4251 name-list: a comma-separated string on the wire,
// a slice of names in memory. KexInitMsg's ten algorithm fields all use it.
type NameList []string

// MPInt is an RFC 4251 unsigned multi-precision integer held as big-endian
// bytes. Marshal writes the minimal encoding (leading zero bytes dropped,
// one zero byte prepended when the high bit of the first remaining byte is
// set); Unmarshal keeps the bytes exactly as they were on the wire.
type MPInt []byte

// Blob is the self-framed (header, content) record used for ssh-ed25519
// public keys and signatures: a 4-byte outer length, an inner string
// header, and inner byte-string content.
type Blob struct {
	Header  string
	Content []byte
}

func appendU32(buf []byte, n uint32) []byte {
	return append(buf, byte(n>>24), byte(n>>16), byte(n>>8), byte(n))
}

func appendBool(buf []byte, b bool) []byte {
	if b {
		return append(buf, 1)
	}
	return append(buf, 0)
}

func appendString(buf []byte, s string) []byte {
	buf = appendU32(buf, uint32(len(s)))
	return append(buf, s...)
}

func appendBytes(buf []byte, b []byte) []byte {
	buf = appendU32(buf, uint32(len(b)))
	return append(buf, b...)
}

func appendNameList(buf []byte, l NameList) []byte {
	return appendString(buf, strings.Join(l, ","))
}

// appendMPInt appends the minimal unsigned big-endian encoding of a
// non-negative magnitude, prepending a single zero byte when the high bit
// of the first retained byte would otherwise be set.
func appendMPInt(buf []byte, magnitude []byte) []byte {
	i := 0
	for i < len(magnitude) && magnitude[i] == 0 {
		i++
	}
	m := magnitude[i:]
	if len(m) == 0 {
		return appendU32(buf, 0)
	}
	if m[0]&0x80 != 0 {
		buf = appendU32(buf, uint32(len(m)+1))
		buf = append(buf, 0)
		return append(buf, m...)
	}
	buf = appendU32(buf, uint32(len(m)))
	return append(buf, m...)
}

func appendBlob(buf []byte, b Blob) []byte {
	inner := appendString(nil, b.Header)
	inner = appendBytes(inner, b.Content)
	return appendBytes(buf, inner)
}

type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int { return len(r.buf) - r.off }

func (r *reader) u8() (byte, error) {
	if r.remaining() < 1 {
		return 0, newErr(KindInvalidData, "truncated input reading uint8")
	}
	b := r.buf[r.off]
	r.off++
	return b, nil
}

func (r *reader) bool() (bool, error) {
	b, err := r.u8()
	if err != nil {
		return false, err
	}
	return b != 0, nil
}

func (r *reader) u32() (uint32, error) {
	if r.remaining() < 4 {
		return 0, newErr(KindInvalidData, "truncated input reading uint32")
	}
	v := binary.BigEndian.Uint32(r.buf[r.off:])
	r.off += 4
	return v, nil
}

func (r *reader) fixed(n int) ([]byte, error) {
	if r.remaining() < n {
		return nil, newErr(KindInvalidData, "truncated input reading fixed array")
	}
	b := make([]byte, n)
	copy(b, r.buf[r.off:r.off+n])
	r.off += n
	return b, nil
}

func (r *reader) bytes() ([]byte, error) {
	n, err := r.u32()
	if err != nil {
		return nil, err
	}
	if r.remaining() < int(n) {
		return nil, newErr(KindInvalidData, "truncated input reading byte string")
	}
	b := make([]byte, n)
	copy(b, r.buf[r.off:r.off+int(n)])
	r.off += int(n)
	return b, nil
}

func (r *reader) string() (string, error) {
	b, err := r.bytes()
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", newErr(KindInvalidData, "string payload is not valid UTF-8")
	}
	return string(b), nil
}

func (r *reader) nameList() (NameList, error) {
	s, err := r.string()
	if err != nil {
		return nil, err
	}
	if s == "" {
		return NameList{}, nil
	}
	return NameList(strings.Split(s, ",")), nil
}

func (r *reader) mpint() (MPInt, error) {
	b, err := r.bytes()
	if err != nil {
		return nil, err
	}
	return MPInt(b), nil
}

func (r *reader) blob() (Blob, error) {
	outer, err := r.bytes()
	if err != nil {
		return Blob{}, err
	}
	inner := &reader{buf: outer}
	header, err := inner.string()
	if err != nil {
		return Blob{}, err
	}
	content, err := inner.bytes()
	if err != nil {
		return Blob{}, err
	}
	return Blob{Header: header, Content: content}, nil
}

// taggedMessage is implemented by every message struct in messages.go that
// carries a leading RFC 4250 message-type byte.
type taggedMessage interface {
	msgType() byte
}

// Marshal dumps msg into a fresh byte slice using struct-tag-free
// reflection over exported fields, in declaration order. If msg
// implements taggedMessage, its message-type byte is written first.
func Marshal(msg any) []byte {
	var out []byte
	if tm, ok := msg.(taggedMessage); ok {
		out = append(out, tm.msgType())
	}
	return marshalFields(out, reflect.ValueOf(msg))
}

func marshalFields(out []byte, v reflect.Value) []byte {
	for v.Kind() == reflect.Pointer {
		v = v.Elem()
	}
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := v.Field(i)
		if t.Field(i).PkgPath != "" {
			continue // unexported
		}
		switch val := f.Interface().(type) {
		case bool:
			out = appendBool(out, val)
		case byte:
			out = append(out, val)
		case uint32:
			out = appendU32(out, val)
		case string:
			out = appendString(out, val)
		case []byte:
			out = appendBytes(out, val)
		case NameList:
			out = appendNameList(out, val)
		case MPInt:
			out = appendMPInt(out, []byte(val))
		case Blob:
			out = appendBlob(out, val)
		default:
			switch f.Kind() {
			case reflect.Array:
				for j := 0; j < f.Len(); j++ {
					out = append(out, byte(f.Index(j).Uint()))
				}
			case reflect.Struct:
				out = marshalFields(out, f)
			default:
				panic(fmt.Sprintf("ssh: Marshal: unsupported field kind %v", f.Kind()))
			}
		}
	}
	return out
}

// Unmarshal parses data into msg, which must be a pointer to a struct
// whose field set mirrors Marshal's expectations. If the struct implements
// taggedMessage, the leading type byte is checked against msgType().
func Unmarshal(data []byte, msg any) error {
	r := &reader{buf: data}
	if tm, ok := msg.(taggedMessage); ok {
		got, err := r.u8()
		if err != nil {
			return err
		}
		if got != tm.msgType() {
			return unexpectedMessageError(tm.msgType(), got)
		}
	}
	return unmarshalFields(r, reflect.ValueOf(msg).Elem())
}

func unmarshalFields(r *reader, v reflect.Value) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		f := v.Field(i)
		if t.Field(i).PkgPath != "" {
			continue
		}
		switch f.Interface().(type) {
		case bool:
			val, err := r.bool()
			if err != nil {
				return err
			}
			f.SetBool(val)
		case byte:
			val, err := r.u8()
			if err != nil {
				return err
			}
			f.SetUint(uint64(val))
		case uint32:
			val, err := r.u32()
			if err != nil {
				return err
			}
			f.SetUint(uint64(val))
		case string:
			val, err := r.string()
			if err != nil {
				return err
			}
			f.SetString(val)
		case []byte:
			val, err := r.bytes()
			if err != nil {
				return err
			}
			f.SetBytes(val)
		case NameList:
			val, err := r.nameList()
			if err != nil {
				return err
			}
			f.Set(reflect.ValueOf(val))
		case MPInt:
			val, err := r.mpint()
			if err != nil {
				return err
			}
			f.Set(reflect.ValueOf(val))
		case Blob:
			val, err := r.blob()
			if err != nil {
				return err
			}
			f.Set(reflect.ValueOf(val))
		default:
			switch f.Kind() {
			case reflect.Array:
				b, err := r.fixed(f.Len())
				if err != nil {
					return err
				}
				for j := 0; j < f.Len(); j++ {
					f.Index(j).SetUint(uint64(b[j]))
				}
			case reflect.Struct:
				if err := unmarshalFields(r, f); err != nil {
					return err
				}
			default:
				panic(fmt.Sprintf("ssh: Unmarshal: unsupported field kind %v", f.Kind()))
			}
		}
	}
	return nil
}
