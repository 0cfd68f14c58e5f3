package errors

import (
	stdErrors "errors"
	"fmt"
	"testing"
)

func TestKindClassification(t *testing.T) {
	root := stdErrors.New("root")
	wrapped := fmt.Errorf("adding context: %w", root)
	pe := NewParseError("nalu.findInAvcc", wrapped)
	if !Is(pe, KindParse) {
		t.Fatalf("expected Is(pe, KindParse)=true")
	}
	if !stdErrors.Is(pe, root) {
		t.Fatalf("expected errors.Is to find root cause")
	}
	var e *Error
	if !stdErrors.As(pe, &e) {
		t.Fatalf("expected errors.As to *Error")
	}
	if e.Op != "nalu.findInAvcc" {
		t.Fatalf("unexpected op: %s", e.Op)
	}
}

func TestRestfulAndPutMediaCode(t *testing.T) {
	re := NewRestfulError("kvsapi.describeStream", 404, nil)
	code, ok := RestfulStatus(re)
	if !ok || code != 404 {
		t.Fatalf("expected restful status 404, got %d ok=%v", code, ok)
	}

	pm := NewPutMediaError("kvsapi.readFragmentAck", 4004, nil)
	id, ok := FragmentErrorID(pm)
	if !ok || id != 4004 {
		t.Fatalf("expected fragment error id 4004, got %d ok=%v", id, ok)
	}
	if !IsFatal(pm) {
		t.Fatalf("expected PutMedia errors to be fatal")
	}
}

func TestIsMatchesSpecificCode(t *testing.T) {
	re := NewRestfulError("kvsapi.createStream", 500, nil)
	if !stdErrors.Is(re, &Error{Kind: KindRestful}) {
		t.Fatalf("expected bare-kind match")
	}
	if !stdErrors.Is(re, &Error{Kind: KindRestful, Code: 500}) {
		t.Fatalf("expected exact code match")
	}
	if stdErrors.Is(re, &Error{Kind: KindRestful, Code: 404}) {
		t.Fatalf("expected mismatched code to not match")
	}
}

func TestNetworkErrorsAreFatal(t *testing.T) {
	ne := NewNetworkError("kvsapi.putMediaUpdate", stdErrors.New("write: broken pipe"))
	if !IsFatal(ne) {
		t.Fatalf("expected network send errors to be fatal")
	}
	ae := NewArgumentError("producer.addFrame", stdErrors.New("nil payload"))
	if IsFatal(ae) {
		t.Fatalf("argument errors should not be session-fatal")
	}
}

func TestNilSafety(t *testing.T) {
	if Is(nil, KindParse) {
		t.Fatalf("nil should not classify as any kind")
	}
	if IsFatal(nil) {
		t.Fatalf("nil should not be fatal")
	}
	if _, ok := RestfulStatus(nil); ok {
		t.Fatalf("nil should not carry a restful status")
	}
}

func TestErrorStrings(t *testing.T) {
	e := NewStateError("producer.addFrame", stdErrors.New("not open"))
	if s := e.Error(); s == "" {
		t.Fatalf("empty error string")
	}
	e2 := NewStateError("producer.addFrame", nil)
	if s := e2.Error(); s == "" {
		t.Fatalf("empty error string for nil cause")
	}
	re := NewRestfulError("kvsapi.describeStream", 404, nil)
	if s := re.Error(); s == "" {
		t.Fatalf("empty restful error string")
	}
}

func TestNegativePredicates(t *testing.T) {
	plain := stdErrors.New("plain")
	if Is(plain, KindParse) {
		t.Fatalf("plain error shouldn't classify")
	}
	if IsFatal(plain) {
		t.Fatalf("plain error shouldn't be fatal")
	}
}
