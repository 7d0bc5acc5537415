package apperr

import (
	"errors"
	"testing"
)

func TestValidation_WrapsReasonInMessage(t *testing.T) {
	err := Validation("bad mac")
	if err.Error() != "validation: bad mac" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatal("expected errors.As to match *ValidationError")
	}
}

func TestAuth_HasFixedMessage(t *testing.T) {
	err := Auth()
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatal("expected errors.As to match *AuthError")
	}
}

func TestNoCoverage_HasFixedMessage(t *testing.T) {
	err := NoCoverage()
	if err.Error() != "no_coverage" {
		t.Fatalf("unexpected message: %s", err.Error())
	}
}

func TestTransient_UnwrapsToCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Transient(cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
	var tse *TransientStorageError
	if !errors.As(err, &tse) {
		t.Fatal("expected errors.As to match *TransientStorageError")
	}
}

func TestPermanent_UnwrapsToCause(t *testing.T) {
	cause := errors.New("constraint violation")
	err := Permanent(cause)
	if !errors.Is(err, cause) {
		t.Fatal("expected errors.Is to find the wrapped cause")
	}
	var pse *PermanentStorageError
	if !errors.As(err, &pse) {
		t.Fatal("expected errors.As to match *PermanentStorageError")
	}
}

func TestInvariant_WrapsReasonInMessage(t *testing.T) {
	err := Invariant("bbox excludes centroid")
	var ie *InvariantError
	if !errors.As(err, &ie) {
		t.Fatal("expected errors.As to match *InvariantError")
	}
	if ie.Reason != "bbox excludes centroid" {
		t.Fatalf("unexpected reason: %s", ie.Reason)
	}
}
