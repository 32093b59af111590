package resilience

import (
	"context"

	"github.com/arcvox/duplexd/pkg/provider/asr"
)

// ASRFallback implements [asr.Provider] with automatic failover across multiple
// ASR backends. Each backend has its own circuit breaker.
type ASRFallback struct {
	group *FallbackGroup[asr.Provider]
}

// Compile-time interface assertion.
var _ asr.Provider = (*ASRFallback)(nil)

// NewASRFallback creates an [ASRFallback] with primary as the preferred backend.
func NewASRFallback(primary asr.Provider, primaryName string, cfg FallbackConfig) *ASRFallback {
	return &ASRFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional ASR provider as a fallback.
func (f *ASRFallback) AddFallback(name string, provider asr.Provider) {
	f.group.AddFallback(name, provider)
}

// StartStream opens a streaming transcription session against the first healthy
// provider. If the primary fails to start the stream, subsequent fallbacks are
// tried.
func (f *ASRFallback) StartStream(ctx context.Context, cfg asr.StreamConfig) (asr.SessionHandle, error) {
	return ExecuteWithResult(f.group, func(p asr.Provider) (asr.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
