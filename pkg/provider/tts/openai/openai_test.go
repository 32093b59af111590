package openai

import "testing"

func TestNew_EmptyAPIKey(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel {
		t.Errorf("expected model %q, got %q", defaultModel, p.model)
	}
	if p.defaultVoice != defaultDefaultVoice {
		t.Errorf("expected default voice %q, got %q", defaultDefaultVoice, p.defaultVoice)
	}
}

func TestNew_WithOptions(t *testing.T) {
	p, err := New("key", WithModel("tts-1-hd"), WithDefaultVoice("nova"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "tts-1-hd" {
		t.Errorf("expected model tts-1-hd, got %q", p.model)
	}
	if p.defaultVoice != "nova" {
		t.Errorf("expected default voice nova, got %q", p.defaultVoice)
	}
}

func TestListVoices(t *testing.T) {
	p, _ := New("key")
	voices, err := p.ListVoices(nil)
	if err != nil {
		t.Fatalf("ListVoices: %v", err)
	}
	if len(voices) == 0 {
		t.Fatal("expected a non-empty voice catalogue")
	}
}

func TestCloneVoice_Unsupported(t *testing.T) {
	p, _ := New("key")
	_, err := p.CloneVoice(nil, nil)
	if err == nil {
		t.Error("expected error for unsupported CloneVoice")
	}
}
