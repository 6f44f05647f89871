package batch

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestSkipPolicyToleratesUpToLimit(t *testing.T) {
	policy := NewSkipPolicy(3)
	for count := 0; count < 3; count++ {
		if !policy.ShouldSkip(KindValidation, count) {
			t.Fatalf("expected rejection with %d prior skips to be tolerated", count)
		}
	}
	if policy.ShouldSkip(KindValidation, 3) {
		t.Fatalf("expected rejection past the limit to escalate")
	}
}

func TestSkipPolicyZeroLimitNeverSkips(t *testing.T) {
	policy := NewSkipPolicy(0)
	if policy.ShouldSkip(KindValidation, 0) {
		t.Fatalf("expected first rejection to escalate with a zero limit")
	}
	if NewSkipPolicy(-4).Limit() != 0 {
		t.Fatalf("expected negative limit to clamp to zero")
	}
}

func TestSkipPolicyNeverSkipsFatalKinds(t *testing.T) {
	policy := NewSkipPolicy(1000)
	for _, kind := range []ErrorKind{KindResource, KindFinalization, KindSkipLimitExceeded, KindCancelled} {
		if policy.ShouldSkip(kind, 0) {
			t.Fatalf("expected %s to never be skipped", kind)
		}
	}
}

func TestKindOf(t *testing.T) {
	tagged := NewError(KindFinalization, errors.New("flush"))
	cases := []struct {
		err  error
		kind ErrorKind
	}{
		{nil, 0},
		{tagged, KindFinalization},
		{fmt.Errorf("wrapped: %w", tagged), KindFinalization},
		{errors.Join(NewError(KindSkipLimitExceeded, errors.New("x")), tagged), KindSkipLimitExceeded},
		{errors.New("disk gone"), KindResource},
		{context.Canceled, KindCancelled},
		{fmt.Errorf("deadline: %w", context.DeadlineExceeded), KindCancelled},
	}
	for _, tc := range cases {
		if got := KindOf(tc.err); got != tc.kind {
			t.Fatalf("KindOf(%v) = %v, want %v", tc.err, got, tc.kind)
		}
	}
}

func TestErrorMessageIncludesLine(t *testing.T) {
	err := &Error{Kind: KindResource, Line: 12, Err: errors.New("bad quote")}
	if err.Error() != "RESOURCE_FAULT at line 12: bad quote" {
		t.Fatalf("unexpected message %q", err.Error())
	}
	if ResourceError("open %s", "in.csv").Error() != "RESOURCE_FAULT: open in.csv" {
		t.Fatalf("unexpected resource message")
	}
}
