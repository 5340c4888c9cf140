package codec

import (
	"bytes"
	"io"
	"strings"
	"testing"
)

func TestEncoderHeaderFromFirstRecord(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	rec := NewRecord().Set("Name", "Acme").Set("Industry", "Software")
	if err := enc.Write(rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := enc.Flush(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := buf.String()
	want := "Name,Industry\nAcme,Software\n"
	if got != want {
		t.Errorf("encoded output = %q, want %q", got, want)
	}
}

func TestEncoderNullSentinel(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	rec := NewRecord().Set("Name", "Acme")
	rec.SetNull("Industry")
	if err := enc.Write(rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := enc.Flush(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d: %q", len(lines), buf.String())
	}
	if lines[1] != "Acme,#N/A" {
		t.Errorf("data line = %q, want %q", lines[1], "Acme,#N/A")
	}
}

func TestEncoderMissingFieldIsEmpty(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf, WithHeader([]string{"Name", "Industry", "Phone"}))

	rec := NewRecord().Set("Name", "Acme")
	if err := enc.Write(rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := enc.Flush(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if lines[1] != "Acme,," {
		t.Errorf("data line = %q, want %q", lines[1], "Acme,,")
	}
}

func TestRoundTripPreservesNulls(t *testing.T) {
	records := []*Record{
		NewRecord().Set("Name", "Acme").SetNull("Industry"),
		NewRecord().Set("Name", "Globex").Set("Industry", "Energy"),
	}

	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, rec := range records {
		if err := enc.Write(rec); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if err := enc.Flush(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	dec := NewDecoder(&buf)

	first, err := dec.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !first.Has("Industry") {
		t.Error("expected Industry to be present on first record")
	}
	if !first.IsNull("Industry") {
		t.Error("expected Industry to decode as explicit null")
	}
	if name, _ := first.Get("Name"); name != "Acme" {
		t.Errorf("Name = %q, want %q", name, "Acme")
	}

	second, err := dec.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v, ok := second.Get("Industry"); !ok || v != "Energy" {
		t.Errorf("Industry = %q (present=%v), want Energy", v, ok)
	}

	if _, err := dec.Next(); err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestDecoderHeaderDriven(t *testing.T) {
	in := "Id,Success,Created,Error\n001,true,true,\n,false,false,Required field missing\n"
	dec := NewDecoder(strings.NewReader(in))

	header, err := dec.Header()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(header) != 4 || header[0] != "Id" || header[3] != "Error" {
		t.Errorf("unexpected header: %v", header)
	}

	first, err := dec.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id, _ := first.Get("Id"); id != "001" {
		t.Errorf("Id = %q, want 001", id)
	}

	second, err := dec.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg, _ := second.Get("Error"); msg != "Required field missing" {
		t.Errorf("Error = %q, want %q", msg, "Required field missing")
	}
}

func TestDecoderCustomSentinel(t *testing.T) {
	in := "Name,Industry\nAcme,NULL\n"
	dec := NewDecoder(strings.NewReader(in), WithSentinel("NULL"))

	rec, err := dec.Next()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !rec.IsNull("Industry") {
		t.Error("expected Industry to decode as null with custom sentinel")
	}
}

func TestDecoderEmptyStream(t *testing.T) {
	dec := NewDecoder(strings.NewReader(""))
	if _, err := dec.Next(); err != io.EOF {
		t.Errorf("expected io.EOF on empty stream, got %v", err)
	}
}

func TestRecordOrderAndDelete(t *testing.T) {
	rec := NewRecord().Set("A", "1").Set("B", "2").Set("C", "3")
	rec.Delete("B")

	fields := rec.Fields()
	if len(fields) != 2 || fields[0] != "A" || fields[1] != "C" {
		t.Errorf("unexpected field order after delete: %v", fields)
	}
	if rec.Has("B") {
		t.Error("expected B to be gone")
	}
}

func TestRecordSetBool(t *testing.T) {
	rec := NewRecord().SetBool("Active", true).SetBool("Deleted", false)
	if v, _ := rec.Get("Active"); v != "true" {
		t.Errorf("Active = %q, want true", v)
	}
	if v, _ := rec.Get("Deleted"); v != "false" {
		t.Errorf("Deleted = %q, want false", v)
	}
}
