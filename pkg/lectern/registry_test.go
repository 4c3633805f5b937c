package lectern

import (
	"strings"
	"testing"

	"github.com/lectern-ai/lectern/pkg/adapters/qa"
	"github.com/lectern-ai/lectern/pkg/providers/mock"
)

func TestRegistryBuildsRegisteredProvider(t *testing.T) {
	reg := NewProviderRegistry()
	reg.RegisterQA("mock", func(cfg Config) (qa.Answerer, error) {
		return mock.NewAnswerer(mock.AnswererConfig{}), nil
	})
	cfg := Config{}
	cfg.Vendors.QA.Provider = "mock"
	a, err := reg.BuildQA(cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if a.Name() != "mock_qa" {
		t.Fatalf("unexpected provider %s", a.Name())
	}
}

func TestRegistryRejectsUnknownProvider(t *testing.T) {
	reg := NewProviderRegistry()
	reg.RegisterQA("mock", func(cfg Config) (qa.Answerer, error) {
		return mock.NewAnswerer(mock.AnswererConfig{}), nil
	})
	cfg := Config{}
	cfg.Vendors.QA.Provider = "gemini"
	_, err := reg.BuildQA(cfg)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "mock") {
		t.Fatalf("error should list registered providers, got %q", err.Error())
	}
}
