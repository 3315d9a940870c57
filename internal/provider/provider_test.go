package provider

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func TestSampling_Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   Sampling
		want Sampling
	}{
		{"in range unchanged", Sampling{0.7, 0.5, -0.5}, Sampling{0.7, 0.5, -0.5}},
		{"rounds to two decimals", Sampling{0.7349, 0.126, -1.999}, Sampling{0.73, 0.13, -2}},
		{"clamps temperature high", Sampling{Temperature: 3.5}, Sampling{Temperature: 2}},
		{"clamps temperature low", Sampling{Temperature: -1}, Sampling{Temperature: 0}},
		{"clamps penalties", Sampling{FrequencyPenalty: 9, PresencePenalty: -9}, Sampling{FrequencyPenalty: 2, PresencePenalty: -2}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Normalize(); got != tt.want {
				t.Errorf("Normalize() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestSampling_NormalizeIdempotent(t *testing.T) {
	s := Sampling{Temperature: 1.23456, FrequencyPenalty: -3, PresencePenalty: 0.005}
	once := s.Normalize()
	if twice := once.Normalize(); twice != once {
		t.Errorf("Normalize not idempotent: %+v then %+v", once, twice)
	}
}

func TestDefaultSampling(t *testing.T) {
	got := DefaultSampling()
	if got.Temperature != 0.7 || got.FrequencyPenalty != 0 || got.PresencePenalty != 0 {
		t.Errorf("DefaultSampling() = %+v", got)
	}
}

func TestRequest_Missing(t *testing.T) {
	full := Request{APIKey: "k", BaseURL: "http://x", Model: "m", Prompt: "p"}
	if got := full.Missing(); len(got) != 0 {
		t.Errorf("Missing() = %v, want none", got)
	}

	blank := Request{APIKey: "  ", Prompt: "p"}
	want := []string{"api key", "base url", "model"}
	if got := blank.Missing(); !slices.Equal(got, want) {
		t.Errorf("Missing() = %v, want %v", got, want)
	}
}

func TestErrorTypes(t *testing.T) {
	t.Run("ProviderError", func(t *testing.T) {
		cause := errors.New("connection refused")
		err := &ProviderError{Provider: "gpt-4o", Err: cause}
		want := "provider: gpt-4o: connection refused"
		if err.Error() != want {
			t.Errorf("Error() = %q, want %q", err.Error(), want)
		}
		if !errors.Is(err, cause) {
			t.Error("errors.Is failed to unwrap cause")
		}
		var target *ProviderError
		if !errors.As(err, &target) {
			t.Error("errors.As failed for *ProviderError")
		}
	})

	t.Run("TimeoutError", func(t *testing.T) {
		err := &TimeoutError{Provider: "gpt-4o", Duration: 30 * time.Second}
		want := "provider: gpt-4o: timed out after 30s"
		if err.Error() != want {
			t.Errorf("Error() = %q, want %q", err.Error(), want)
		}
		var target *TimeoutError
		if !errors.As(err, &target) {
			t.Error("errors.As failed for *TimeoutError")
		}
	})
}

func TestMockTextModel(t *testing.T) {
	t.Run("returns configured output", func(t *testing.T) {
		mock := &MockTextModel{
			CallFunc: func(ctx context.Context, req Request) (string, error) {
				return "card for " + req.Prompt, nil
			},
		}
		got, err := mock.CallTextModel(context.Background(), Request{Prompt: "alice"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got != "card for alice" {
			t.Errorf("output = %q, want %q", got, "card for alice")
		}
	})

	t.Run("returns configured error", func(t *testing.T) {
		mock := &MockTextModel{
			CallFunc: func(ctx context.Context, req Request) (string, error) {
				return "", &ProviderError{Provider: "mock", Err: errors.New("failed")}
			},
		}
		_, err := mock.CallTextModel(context.Background(), Request{})
		var pe *ProviderError
		if !errors.As(err, &pe) {
			t.Errorf("expected *ProviderError, got %T", err)
		}
	})

	t.Run("nil CallFunc returns empty output", func(t *testing.T) {
		mock := &MockTextModel{}
		got, err := mock.CallTextModel(context.Background(), Request{})
		if err != nil || got != "" {
			t.Errorf("CallTextModel() = %q, %v; want empty, nil", got, err)
		}
	})
}
