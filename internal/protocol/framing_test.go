package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"
)

func nextOrNil(t *testing.T, f *Framer) []byte {
	t.Helper()
	obj, err := f.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	return obj
}

func TestSingleObject(t *testing.T) {
	f := NewFramer(0)
	f.Append([]byte(`{"CMD":"OPEN","msgId":1}`))

	obj := nextOrNil(t, f)
	if string(obj) != `{"CMD":"OPEN","msgId":1}` {
		t.Errorf("Next() = %q, want the full object", obj)
	}
	if obj := nextOrNil(t, f); obj != nil {
		t.Errorf("second Next() = %q, want nil", obj)
	}
}

func TestConcatenatedObjects(t *testing.T) {
	f := NewFramer(0)
	f.Append([]byte(`{"a":1}{"b":2}{"c":3}`))

	for _, want := range []string{`{"a":1}`, `{"b":2}`, `{"c":3}`} {
		obj := nextOrNil(t, f)
		if string(obj) != want {
			t.Errorf("Next() = %q, want %q", obj, want)
		}
	}
}

func TestSplitAcrossArbitraryBoundaries(t *testing.T) {
	payload := []byte(`{"CMD":"SET_SCHEDULE","schedule":{"index":0,"daysOfWeek":[1,1,1,1,1,1,1]}}{"PING":"123"}`)

	// Feed one byte at a time and collect everything that comes out.
	f := NewFramer(0)
	var got [][]byte
	for _, b := range payload {
		f.Append([]byte{b})
		for {
			obj := nextOrNil(t, f)
			if obj == nil {
				break
			}
			got = append(got, obj)
		}
	}

	if len(got) != 2 {
		t.Fatalf("extracted %d objects, want 2", len(got))
	}
	if !bytes.Contains(got[0], []byte("SET_SCHEDULE")) {
		t.Errorf("first object = %q, want the schedule message", got[0])
	}
	if string(got[1]) != `{"PING":"123"}` {
		t.Errorf("second object = %q", got[1])
	}
}

func TestBracesInsideStrings(t *testing.T) {
	f := NewFramer(0)
	f.Append([]byte(`{"reason":"weird {nested} payload"}{"next":1}`))

	obj := nextOrNil(t, f)
	if string(obj) != `{"reason":"weird {nested} payload"}` {
		t.Errorf("Next() = %q, braces inside strings must not end the object", obj)
	}
	obj = nextOrNil(t, f)
	if string(obj) != `{"next":1}` {
		t.Errorf("Next() = %q, want the trailing object", obj)
	}
}

func TestEscapedQuotesInsideStrings(t *testing.T) {
	f := NewFramer(0)
	raw := `{"tz":"a \"quoted\" brace }"}`
	f.Append([]byte(raw))

	obj := nextOrNil(t, f)
	if string(obj) != raw {
		t.Errorf("Next() = %q, want %q", obj, raw)
	}
	var decoded map[string]any
	if err := json.Unmarshal(obj, &decoded); err != nil {
		t.Errorf("extracted object does not parse: %v", err)
	}
}

func TestLeadingGarbageDiscarded(t *testing.T) {
	f := NewFramer(0)
	f.Append([]byte("\r\n junk {\"a\":1}"))

	obj := nextOrNil(t, f)
	if string(obj) != `{"a":1}` {
		t.Errorf("Next() = %q, want object after garbage", obj)
	}
}

func TestIncompleteObjectReturnsNil(t *testing.T) {
	f := NewFramer(0)
	f.Append([]byte(`{"CMD":"OP`))

	if obj := nextOrNil(t, f); obj != nil {
		t.Errorf("Next() = %q, want nil for incomplete object", obj)
	}
	if f.Buffered() == 0 {
		t.Error("incomplete bytes should remain buffered")
	}
}

func TestOversizeFrame(t *testing.T) {
	f := NewFramer(32)
	f.Append([]byte(`{"reason":"`))
	f.Append(bytes.Repeat([]byte("x"), 64))

	_, err := f.Next()
	if !errors.Is(err, ErrFrameTooLarge) {
		t.Errorf("Next() error = %v, want ErrFrameTooLarge", err)
	}
}

func TestBool01(t *testing.T) {
	if got := Bool01(true); got != "1" {
		t.Errorf("Bool01(true) = %q, want \"1\"", got)
	}
	if got := Bool01(false); got != "0" {
		t.Errorf("Bool01(false) = %q, want \"0\"", got)
	}
}

func TestIs01True(t *testing.T) {
	trueish := []any{"1", "true", true, float64(1)}
	for _, v := range trueish {
		if !Is01True(v) {
			t.Errorf("Is01True(%v) = false, want true", v)
		}
	}
	falseish := []any{"0", "", false, float64(0), nil, "off"}
	for _, v := range falseish {
		if Is01True(v) {
			t.Errorf("Is01True(%v) = true, want false", v)
		}
	}
}

func TestMarshalNoTrailingNewline(t *testing.T) {
	m := NewReply(CmdGetDoorStatus)
	m[FieldDoorStatus] = "CLOSED"

	data, err := m.Marshal()
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if bytes.HasSuffix(data, []byte("\n")) {
		t.Error("Marshal() output must not end in a newline")
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Marshal() output does not parse: %v", err)
	}
	if decoded[FieldDirection] != DoorToPhone {
		t.Errorf("direction = %v, want %q", decoded[FieldDirection], DoorToPhone)
	}
	if decoded[FieldSuccess] != SuccessTrue {
		t.Errorf("success = %v, want %q", decoded[FieldSuccess], SuccessTrue)
	}
}
