package rlsguard_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/pthm/rlsguard"
	"github.com/pthm/rlsguard/pkg/estimator"
)

func TestErrorHelpers(t *testing.T) {
	t.Run("IsNotConnectedErr", func(t *testing.T) {
		err := fmt.Errorf("wrapped: %w", rlsguard.ErrNotConnected)
		if !rlsguard.IsNotConnectedErr(err) {
			t.Error("IsNotConnectedErr should return true for wrapped ErrNotConnected")
		}
		if rlsguard.IsNotConnectedErr(errors.New("other error")) {
			t.Error("IsNotConnectedErr should return false for other errors")
		}
	})

	t.Run("IsInvalidFeedErr", func(t *testing.T) {
		err := fmt.Errorf("wrapped: %w", rlsguard.ErrInvalidFeed)
		if !rlsguard.IsInvalidFeedErr(err) {
			t.Error("IsInvalidFeedErr should return true for wrapped ErrInvalidFeed")
		}
		if rlsguard.IsInvalidFeedErr(errors.New("other error")) {
			t.Error("IsInvalidFeedErr should return false for other errors")
		}
	})

	t.Run("IsValidationRejectedErr", func(t *testing.T) {
		rej := rlsguard.Rejection{Type: estimator.KindRLS, Target: "public.posts.p", Reason: "mismatch"}
		if !rlsguard.IsValidationRejectedErr(rej) {
			t.Error("IsValidationRejectedErr should return true for a Rejection")
		}
		if rlsguard.IsValidationRejectedErr(errors.New("other error")) {
			t.Error("IsValidationRejectedErr should return false for other errors")
		}
	})
}

func TestSentinelErrors(t *testing.T) {
	tests := []error{
		rlsguard.ErrNotConnected,
		rlsguard.ErrInvalidFeed,
		rlsguard.ErrValidationRejected,
	}

	for _, err := range tests {
		t.Run(err.Error(), func(t *testing.T) {
			if err.Error() == "" {
				t.Error("error message should not be empty")
			}
		})
	}
}
