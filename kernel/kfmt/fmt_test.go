package kfmt

import (
	"bytes"
	"testing"
)

func TestFprintf(t *testing.T) {
	specs := []struct {
		format string
		args   []interface{}
		exp    string
	}{
		{"no args", nil, "no args"},
		{"%t", []interface{}{true}, "true"},
		{"%s arg", []interface{}{"STRING"}, "STRING arg"},
		{"%s arg", []interface{}{[]byte("BYTES")}, "BYTES arg"},
		{"'%4s'", []interface{}{"AB"}, "'  AB'"},
		{"'%2s'", []interface{}{"ABCDE"}, "'ABCDE'"},
		{"uint: %d", []interface{}{uint8(10)}, "uint: 10"},
		{"oct: %o", []interface{}{uint16(0777)}, "oct: 777"},
		{"hex: %x", []interface{}{uint32(0xBEEF)}, "hex: 0xbeef"},
		{"neg: %d", []interface{}{int32(-42)}, "neg: -42"},
		{"pad: %04x", []interface{}{uint8(0xA)}, "pad: 0x000a"},
		{"%c!", []interface{}{byte('A')}, "A!"},
		{"%d%%", []interface{}{5}, "5%"},
		{"missing %d", nil, "missing (MISSING)"},
		{"extra", []interface{}{1}, "extra%!(EXTRA)"},
		{"wrong %d", []interface{}{"nope"}, "wrong %!(WRONGTYPE)"},
	}

	for specIndex, spec := range specs {
		var buf bytes.Buffer
		Fprintf(&buf, spec.format, spec.args...)
		if got := buf.String(); got != spec.exp {
			t.Errorf("[spec %d] expected %q; got %q", specIndex, spec.exp, got)
		}
	}
}

func TestPrintfUsesSink(t *testing.T) {
	var buf bytes.Buffer
	prevSink := sink
	defer func() { sink = prevSink }()

	SetOutputSink(&buf)
	Printf("hello %s", "world")

	if got := buf.String(); got != "hello world" {
		t.Errorf("expected %q; got %q", "hello world", got)
	}
}

func TestSetOutputSinkFlushesEarlyBuffer(t *testing.T) {
	prevSink := sink
	defer func() { sink = prevSink }()

	earlyBuf = ringBuffer{}
	sink = &earlyBuf
	Printf("buffered before init\n")

	var buf bytes.Buffer
	SetOutputSink(&buf)

	if got := buf.String(); got != "buffered before init\n" {
		t.Errorf("expected early output to be flushed; got %q", got)
	}
}
