package phonetic_test

import (
	"testing"

	"github.com/arcvox/duplexd/internal/transcript/phonetic"
)

func TestMatcher_SingleWordMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	vocabulary := []string{"Kubernetes", "Grafana", "Load Balancer"}

	corrected, conf, matched := m.Match("kubernetees", vocabulary)
	if !matched {
		t.Fatalf("Match(%q, vocabulary): matched=false, want true", "kubernetees")
	}
	if corrected != "Kubernetes" {
		t.Errorf("Match(%q): corrected=%q, want %q", "kubernetees", corrected, "Kubernetes")
	}
	if conf < 0.7 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.7", "kubernetees", conf)
	}
}

func TestMatcher_MultiWordTermMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()

	vocabulary := []string{"Load Balancer", "Kubernetes", "Grafana"}

	corrected, conf, matched := m.Match("load balencer", vocabulary)
	if !matched {
		t.Fatalf("Match(%q, vocabulary): matched=false, want true", "load balencer")
	}
	if corrected != "Load Balancer" {
		t.Errorf("Match(%q): corrected=%q, want %q", "load balencer", corrected, "Load Balancer")
	}
	if conf < 0.7 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.7", "load balencer", conf)
	}
}

func TestMatcher_NoMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	vocabulary := []string{"Kubernetes", "Grafana"}

	corrected, conf, matched := m.Match("hello", vocabulary)
	if matched {
		t.Fatalf("Match(%q, vocabulary): matched=true, want false", "hello")
	}
	if corrected != "hello" {
		t.Errorf("Match(%q): corrected=%q, want original word %q", "hello", corrected, "hello")
	}
	if conf != 0 {
		t.Errorf("Match(%q): confidence=%f, want 0", "hello", conf)
	}
}

func TestMatcher_CaseInsensitivity(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	vocabulary := []string{"Kubernetes"}

	corrected, _, matched := m.Match("KUBERNETES", vocabulary)
	if !matched {
		t.Fatalf("Match(%q, vocabulary): matched=false, want true", "KUBERNETES")
	}
	if corrected != "Kubernetes" {
		t.Errorf("Match(%q): corrected=%q, want %q", "KUBERNETES", corrected, "Kubernetes")
	}
}

func TestMatcher_ExactMatch(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	vocabulary := []string{"Grafana", "Kubernetes"}

	corrected, conf, matched := m.Match("grafana", vocabulary)
	if !matched {
		t.Fatalf("Match(%q, vocabulary): matched=false, want true", "grafana")
	}
	if corrected != "Grafana" {
		t.Errorf("Match(%q): corrected=%q, want %q", "grafana", corrected, "Grafana")
	}
	if conf < 0.9 {
		t.Errorf("Match(%q): confidence=%f, want >= 0.9 for near-exact match", "grafana", conf)
	}
}

func TestMatcher_PhoneticThresholdFiltering(t *testing.T) {
	t.Parallel()

	// Set a very high phonetic threshold so near-matches are rejected.
	m := phonetic.New(
		phonetic.WithPhoneticThreshold(0.99),
		phonetic.WithFuzzyThreshold(0.99),
	)
	vocabulary := []string{"Kubernetes"}

	_, _, matched := m.Match("kubernetees", vocabulary)
	if matched {
		t.Fatal("Match with threshold=0.99 should reject near-matches, got matched=true")
	}
}

func TestMatcher_EmptyVocabulary(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	corrected, conf, matched := m.Match("kubernetes", nil)
	if matched {
		t.Fatal("Match with nil vocabulary should return matched=false")
	}
	if corrected != "kubernetes" {
		t.Errorf("corrected=%q, want original", corrected)
	}
	if conf != 0 {
		t.Errorf("conf=%f, want 0", conf)
	}
}

func TestMatcher_EmptyWord(t *testing.T) {
	t.Parallel()

	m := phonetic.New()
	corrected, conf, matched := m.Match("", []string{"Kubernetes"})
	if matched {
		t.Fatal("Match with empty word should return matched=false")
	}
	if corrected != "" {
		t.Errorf("corrected=%q, want empty string", corrected)
	}
	if conf != 0 {
		t.Errorf("conf=%f, want 0", conf)
	}
}

func TestWithOptions(t *testing.T) {
	t.Parallel()

	m := phonetic.New(
		phonetic.WithPhoneticThreshold(0.75),
		phonetic.WithFuzzyThreshold(0.90),
	)
	if m == nil {
		t.Fatal("New returned nil")
	}
}
