package resp

import (
	"bufio"
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestDecode_Roundtrip(t *testing.T) {
	cases := []Value{
		SimpleString("OK"),
		Error("ERR boom"),
		Integer(42),
		Integer(-7),
		Bulk([]byte("hello")),
		Bulk([]byte("")),
		NullBulk(),
		Array([]Value{Integer(1), BulkStr("two")}),
		NullArray(),
	}
	for _, v := range cases {
		var buf bytes.Buffer
		w := bufio.NewWriter(&buf)
		if err := Encode(w, v); err != nil {
			t.Fatalf("Encode(%v) failed: %v", v, err)
		}
		w.Flush()

		got, err := Decode(bufio.NewReader(&buf))
		if err != nil {
			t.Fatalf("Decode after Encode(%v) failed: %v", v, err)
		}
		if got.Type != v.Type || got.Int != v.Int || got.Null != v.Null {
			t.Errorf("roundtrip mismatch: got %+v, want %+v", got, v)
		}
		if !bytes.Equal(got.Str, v.Str) {
			t.Errorf("roundtrip Str mismatch: got %q, want %q", got.Str, v.Str)
		}
	}
}

func TestReadCommand_ArrayForm(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n"))
	args, err := ReadCommand(r)
	if err != nil {
		t.Fatalf("ReadCommand failed: %v", err)
	}
	want := [][]byte{[]byte("SET"), []byte("k"), []byte("v")}
	if len(args) != len(want) {
		t.Fatalf("got %d args, want %d", len(args), len(want))
	}
	for i := range want {
		if !bytes.Equal(args[i], want[i]) {
			t.Errorf("arg[%d] = %q, want %q", i, args[i], want[i])
		}
	}
}

func TestReadCommand_InlineForm(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("PING hello\r\n"))
	args, err := ReadCommand(r)
	if err != nil {
		t.Fatalf("ReadCommand failed: %v", err)
	}
	if len(args) != 2 || string(args[0]) != "PING" || string(args[1]) != "hello" {
		t.Errorf("got %v, want [PING hello]", args)
	}
}

func TestDecode_MalformedInteger(t *testing.T) {
	r := bufio.NewReader(strings.NewReader(":notanumber\r\n"))
	_, err := Decode(r)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestDecode_BulkLenExceedsLimit(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("$999999999999\r\n"))
	_, err := Decode(r)
	if !errors.Is(err, ErrLimitExceeded) {
		t.Errorf("err = %v, want ErrLimitExceeded", err)
	}
}

func TestDecode_ArrayLenExceedsLimit(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("*99999999\r\n"))
	_, err := Decode(r)
	if !errors.Is(err, ErrLimitExceeded) {
		t.Errorf("err = %v, want ErrLimitExceeded", err)
	}
}

func TestDecode_NegativeBulkLenOtherThanMinusOne(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("$-5\r\n"))
	_, err := Decode(r)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestDecode_NegativeArrayLenOtherThanMinusOne(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("*-5\r\n"))
	_, err := Decode(r)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestDecode_MissingTrailingCRLF(t *testing.T) {
	r := bufio.NewReader(strings.NewReader("$3\r\nabcXX"))
	_, err := Decode(r)
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("err = %v, want ErrMalformed", err)
	}
}

func TestEncodeCommandBytes(t *testing.T) {
	b := EncodeCommandBytes([][]byte{[]byte("SET"), []byte("k"), []byte("v")})
	want := "*3\r\n$3\r\nSET\r\n$1\r\nk\r\n$1\r\nv\r\n"
	if string(b) != want {
		t.Errorf("EncodeCommandBytes = %q, want %q", b, want)
	}
}
