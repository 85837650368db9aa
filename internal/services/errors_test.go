package services_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"autorip/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrExternalTool, "imaging", "blkid", "failed", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrExternalTool) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"imaging", "blkid", "failed"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestResourceExhaustedMarkers(t *testing.T) {
	for _, err := range []error{services.ErrNoInput, services.ErrNoOutputCapacity} {
		if !errors.Is(err, services.ErrResourceExhausted) {
			t.Fatalf("expected %v to match ErrResourceExhausted", err)
		}
		if !services.IsTerminal(err) {
			t.Fatalf("expected %v to be terminal", err)
		}
	}
	if errors.Is(services.ErrNoInput, services.ErrNoOutputCapacity) {
		t.Fatal("no input must not match no output capacity")
	}
}

func TestTypedErrorsUnwrapToMarkers(t *testing.T) {
	pf := &services.PersistentFaultError{Command: "!f1200C", LastStatus: "+!e1005000C", Attempts: 30, Elapsed: time.Minute}
	if !errors.Is(pf, services.ErrPersistentFault) {
		t.Fatal("expected persistent fault marker")
	}
	if !strings.Contains(pf.Error(), "30 attempts") {
		t.Fatalf("unexpected message: %q", pf.Error())
	}

	cause := errors.New("exit status 2")
	imgErr := &services.ImagingFailureError{Phase: 2, ExitCode: 2, Err: cause}
	wrapped := services.Wrap(services.ErrImagingFailure, "imaging", "ddrescue", "phase failed", imgErr)
	if !errors.Is(wrapped, services.ErrImagingFailure) || !errors.Is(wrapped, cause) {
		t.Fatalf("expected wrapped imaging error to match markers, got %v", wrapped)
	}
	var target *services.ImagingFailureError
	if !errors.As(wrapped, &target) || target.Phase != 2 {
		t.Fatalf("expected to recover phase from %v", wrapped)
	}
}

func TestOutcome(t *testing.T) {
	cases := map[string]error{
		"stopped":            nil,
		"no input":           services.ErrNoInput,
		"no output capacity": services.ErrNoOutputCapacity,
		"imaging failed":     &services.ImagingFailureError{Phase: 1, ExitCode: 1},
		"robot fault":        &services.PersistentFaultError{},
		"link down":          services.ErrLinkDown,
		"failed":             errors.New("other"),
	}
	for want, err := range cases {
		if got := services.Outcome(err); got != want {
			t.Fatalf("unexpected outcome for %v: got %q want %q", err, got, want)
		}
	}
}
