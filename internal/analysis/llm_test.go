package analysis

import (
	"testing"

	"tasksync.app/tasksync/core/config"
)

func TestNewClientAppliesConfig(t *testing.T) {
	c, err := NewClient(config.LLMConfig{APIKey: "sk-test", Model: "gpt-4o", MaxTokens: 1234})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	oc := c.(*openaiClient)
	if oc.model != "gpt-4o" {
		t.Errorf("model = %q, want gpt-4o", oc.model)
	}
	if oc.maxTokens != 1234 {
		t.Errorf("maxTokens = %d, want 1234", oc.maxTokens)
	}
}

func TestNewClientDefaults(t *testing.T) {
	c, err := NewClient(config.LLMConfig{APIKey: "sk-test"})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	oc := c.(*openaiClient)
	if oc.model != "gpt-4o-mini" {
		t.Errorf("model = %q, want gpt-4o-mini", oc.model)
	}
	if oc.maxTokens != 4096 {
		t.Errorf("maxTokens = %d, want 4096", oc.maxTokens)
	}
}

func TestNewClientRequiresKey(t *testing.T) {
	if _, err := NewClient(config.LLMConfig{}); err == nil {
		t.Fatal("expected an error for a missing API key")
	}
}
