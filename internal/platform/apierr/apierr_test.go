package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestSentinelMatching(t *testing.T) {
	cases := []struct {
		err    error
		target error
	}{
		{NotFound("video_not_found", "video %s not found", "x"), ErrNotFound},
		{Forbidden("not_enrolled", "not enrolled"), ErrForbidden},
		{Validation("invalid_option", "bad option %q", "E"), ErrValidation},
	}
	for _, tc := range cases {
		wrapped := fmt.Errorf("outer: %w", tc.err)
		if !errors.Is(wrapped, tc.target) {
			t.Fatalf("errors.Is(%v, %v) = false", wrapped, tc.target)
		}
	}
	if errors.Is(NotFound("x", "x"), ErrForbidden) {
		t.Fatalf("not found must not match forbidden")
	}
}

func TestAs(t *testing.T) {
	err := fmt.Errorf("wrap: %w", Forbidden("test_already_passed", "test already passed"))
	ae, ok := As(err)
	if !ok {
		t.Fatalf("As: not found")
	}
	if ae.Status != http.StatusForbidden || ae.Code != "test_already_passed" {
		t.Fatalf("unexpected: %+v", ae)
	}
	if _, ok := As(errors.New("plain")); ok {
		t.Fatalf("As matched plain error")
	}
}
