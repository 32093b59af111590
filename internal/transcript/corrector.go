package transcript

import (
	"context"
	"strings"

	"github.com/arcvox/duplexd/pkg/types"
)

// PipelineOption is a functional option for configuring a [CorrectionPipeline].
type PipelineOption func(*CorrectionPipeline)

// WithPhoneticMatcher attaches a [PhoneticMatcher] as the correction stage.
// When nil (the default), the pipeline is a no-op.
func WithPhoneticMatcher(m PhoneticMatcher) PipelineOption {
	return func(p *CorrectionPipeline) {
		p.phonetic = m
	}
}

// CorrectionPipeline is the [Pipeline] implementation backed by a single
// [PhoneticMatcher] stage. CorrectionPipeline is safe for concurrent use.
type CorrectionPipeline struct {
	phonetic PhoneticMatcher
}

var _ Pipeline = (*CorrectionPipeline)(nil)

// NewPipeline constructs a [CorrectionPipeline] with the supplied options.
// With no [PhoneticMatcher] configured, Correct is a no-op.
func NewPipeline(opts ...PipelineOption) *CorrectionPipeline {
	p := &CorrectionPipeline{}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Correct tokenises transcript.Text and, for each token (and short n-gram
// window up to the longest vocabulary term), tests it against vocabulary
// via the configured [PhoneticMatcher]. The longest matching window at each
// position wins, so multi-word vocabulary terms take precedence over
// partial single-word matches.
func (p *CorrectionPipeline) Correct(
	_ context.Context,
	t types.Transcript,
	vocabulary []string,
) (*CorrectedTranscript, error) {
	result := &CorrectedTranscript{
		Original:    t,
		Corrected:   t.Text,
		Corrections: []Correction{},
	}

	if p.phonetic == nil || len(vocabulary) == 0 {
		return result, nil
	}

	tokens := strings.Fields(t.Text)
	if len(tokens) == 0 {
		return result, nil
	}

	maxWindow := maxWordCount(vocabulary)

	var output []string
	i := 0
	for i < len(tokens) {
		maxN := maxWindow
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			term, conf, ok := p.phonetic.Match(window, vocabulary)
			if !ok {
				continue
			}

			output = append(output, strings.Fields(term)...)
			result.Corrections = append(result.Corrections, Correction{
				Original:   window,
				Corrected:  term,
				Confidence: conf,
			})
			i += n
			matched = true
			break
		}

		if !matched {
			output = append(output, tokens[i])
			i++
		}
	}

	result.Corrected = strings.Join(output, " ")
	return result, nil
}

// maxWordCount returns the maximum number of whitespace-separated words in
// any vocabulary entry. Returns 1 when vocabulary is empty.
func maxWordCount(vocabulary []string) int {
	max := 1
	for _, v := range vocabulary {
		if n := len(strings.Fields(v)); n > max {
			max = n
		}
	}
	return max
}
