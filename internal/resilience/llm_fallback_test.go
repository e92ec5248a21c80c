package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/knowledgehunter6/main-line/pkg/provider/llm"
	llmmock "github.com/knowledgehunter6/main-line/pkg/provider/llm/mock"
)

func TestLLMFallbackUsesPrimary(t *testing.T) {
	primary := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "from primary"}}
	backup := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "from backup"}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("backup", backup)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "from primary" {
		t.Errorf("content = %q", resp.Content)
	}
	if backup.CallCount() != 0 {
		t.Errorf("backup called %d times, want 0", backup.CallCount())
	}
}

func TestLLMFallbackFailsOver(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errTest}
	backup := &llmmock.Provider{CompleteResponse: &llm.CompletionResponse{Content: "from backup"}}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("backup", backup)

	resp, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Content != "from backup" {
		t.Errorf("content = %q", resp.Content)
	}
}

func TestLLMFallbackAllFail(t *testing.T) {
	primary := &llmmock.Provider{CompleteErr: errTest}

	fb := NewLLMFallback(primary, "primary", FallbackConfig{})

	_, err := fb.Complete(context.Background(), llm.CompletionRequest{})
	if !errors.Is(err, ErrAllFailed) {
		t.Errorf("err = %v, want ErrAllFailed", err)
	}
}
