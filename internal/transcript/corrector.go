// Package transcript repairs speech-to-text output before it reaches the
// responder.
//
// Recognizers reliably mishear proper nouns: the assistant's name, product
// names, the user's smart-home rooms. The [Corrector] replaces phrases that
// sound like a configured keyword with the keyword's canonical spelling.
// Each [Correction] records the substitution so callers can log or audit it.
package transcript

import (
	"strings"
	"unicode"

	"github.com/MrWong99/charlie/internal/transcript/phonetic"
	"github.com/MrWong99/charlie/pkg/provider/stt"
)

// defaultTrustedConfidence is the per-word recognizer confidence at or above
// which a word is never rewritten.
const defaultTrustedConfidence = 0.9

// Correction captures a single substitution.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

// Result is the output of [Corrector.Correct].
type Result struct {
	// Text is the corrected transcript.
	Text string

	// Corrections lists every substitution in order. Empty when the text was
	// left unchanged.
	Corrections []Correction
}

// Option is a functional option for configuring a [Corrector].
type Option func(*Corrector)

// WithTrustedConfidence sets the per-word confidence at or above which the
// recognizer's word is kept as is. Values above 1 disable the gate.
func WithTrustedConfidence(c float64) Option {
	return func(cr *Corrector) { cr.trusted = c }
}

// WithMatcherOptions forwards options to the phonetic matcher.
func WithMatcherOptions(opts ...phonetic.Option) Option {
	return func(cr *Corrector) { cr.matcherOpts = append(cr.matcherOpts, opts...) }
}

// Corrector rewrites misheard keywords. It is safe for concurrent use.
type Corrector struct {
	matcher     *phonetic.Matcher
	matcherOpts []phonetic.Option
	trusted     float64
}

// NewCorrector returns a Corrector for the given keywords.
func NewCorrector(keywords []string, opts ...Option) *Corrector {
	c := &Corrector{trusted: defaultTrustedConfidence}
	for _, o := range opts {
		o(c)
	}
	c.matcher = phonetic.New(keywords, c.matcherOpts...)
	return c
}

// Correct applies keyword correction to t.
//
// At each token position windows from the longest keyword length down to one
// word are tried; the longest match wins so multi-word keywords take
// precedence over partial matches. A window only matches a keyword with the
// same word count. Punctuation around a window is kept.
func (c *Corrector) Correct(t stt.Transcript) Result {
	tokens := strings.Fields(t.Text)
	if len(tokens) == 0 || c.matcher.Len() == 0 {
		return Result{Text: t.Text}
	}

	// Per-word confidences line up with the tokens only when the recognizer
	// reported exactly one entry per token.
	var conf []float64
	if len(t.Words) == len(tokens) {
		conf = make([]float64, len(tokens))
		for i, w := range t.Words {
			conf[i] = w.Confidence
		}
	}

	var (
		out         []string
		corrections []Correction
	)
	for i := 0; i < len(tokens); {
		n, replacement, corr, ok := c.matchAt(tokens, conf, i)
		if !ok {
			out = append(out, tokens[i])
			i++
			continue
		}
		out = append(out, replacement)
		if corr.Original != corr.Corrected {
			corrections = append(corrections, corr)
		}
		i += n
	}

	return Result{Text: strings.Join(out, " "), Corrections: corrections}
}

func (c *Corrector) matchAt(tokens []string, conf []float64, i int) (n int, replacement string, corr Correction, ok bool) {
	maxN := min(c.matcher.MaxWords(), len(tokens)-i)
	for n := maxN; n >= 1; n-- {
		if c.trustedWindow(conf, i, n) {
			continue
		}
		lead, core, trail := splitPunct(strings.Join(tokens[i:i+n], " "))
		if len([]rune(core)) < 3 {
			continue
		}
		keyword, score, matched := c.matcher.Match(core)
		if !matched || len(strings.Fields(keyword)) != n {
			continue
		}
		return n, lead + keyword + trail, Correction{Original: core, Corrected: keyword, Confidence: score}, true
	}
	return 0, "", Correction{}, false
}

// trustedWindow reports whether every word in the window was recognized with
// trusted confidence.
func (c *Corrector) trustedWindow(conf []float64, i, n int) bool {
	if conf == nil {
		return false
	}
	for _, v := range conf[i : i+n] {
		if v < c.trusted {
			return false
		}
	}
	return true
}

// splitPunct separates leading and trailing punctuation from s.
func splitPunct(s string) (lead, core, trail string) {
	start := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsPunct(r) })
	if start < 0 {
		return s, "", ""
	}
	end := strings.LastIndexFunc(s, func(r rune) bool { return !unicode.IsPunct(r) })
	_, size := firstRune(s[end:])
	return s[:start], s[start : end+size], s[end+size:]
}

func firstRune(s string) (rune, int) {
	for _, r := range s {
		return r, len(string(r))
	}
	return 0, 0
}
