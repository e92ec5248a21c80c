package transcript

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// CorrectorOption is a functional option for configuring a [Corrector].
type CorrectorOption func(*Corrector)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched vocabulary term to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) CorrectorOption {
	return func(c *Corrector) {
		c.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match exists and the corrector falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) CorrectorOption {
	return func(c *Corrector) {
		c.fuzzyThreshold = threshold
	}
}

// Correction records one vocabulary substitution applied to a transcribed
// utterance.
type Correction struct {
	Original   string
	Corrected  string
	Confidence float64
}

// Corrector normalizes speech-to-text output against a fixed domain
// vocabulary (product names, plan tiers, company names) that generic
// transcription models routinely mangle. Matching combines Double
// Metaphone phonetic codes with Jaro-Winkler similarity ranking.
//
// A Corrector is read-only after construction and safe for concurrent use.
type Corrector struct {
	vocabulary        []string
	maxTermWords      int
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewCorrector builds a corrector over the given vocabulary. Terms may be
// multi-word phrases; matching considers n-gram windows up to the longest
// term. An empty vocabulary yields a corrector that passes text through
// unchanged.
func NewCorrector(vocabulary []string, opts ...CorrectorOption) *Corrector {
	c := &Corrector{
		vocabulary:        vocabulary,
		maxTermWords:      1,
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, term := range vocabulary {
		if n := len(strings.Fields(term)); n > c.maxTermWords {
			c.maxTermWords = n
		}
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Correct scans text for spans that phonetically resemble a vocabulary
// term and replaces them. It returns the corrected text and the list of
// substitutions applied; when nothing matches the text is returned
// unchanged with a nil correction list.
//
// At each token position the corrector tries windows from the longest
// vocabulary term down to a single token, so multi-word terms win over
// partial single-word matches.
func (c *Corrector) Correct(text string) (string, []Correction) {
	if len(c.vocabulary) == 0 {
		return text, nil
	}
	tokens := strings.Fields(text)
	if len(tokens) == 0 {
		return text, nil
	}

	var output []string
	var corrections []Correction

	i := 0
	for i < len(tokens) {
		maxN := c.maxTermWords
		if i+maxN > len(tokens) {
			maxN = len(tokens) - i
		}

		matched := false
		for n := maxN; n >= 1; n-- {
			window := strings.Join(tokens[i:i+n], " ")
			term, conf, ok := c.match(window)
			if !ok {
				continue
			}
			// Identity matches carry no information; keep the original
			// tokens but still consume the whole window so a later
			// partial window cannot re-match the same term.
			if strings.EqualFold(window, term) {
				output = append(output, tokens[i:i+n]...)
				i += n
				matched = true
				break
			}
			output = append(output, strings.Fields(term)...)
			corrections = append(corrections, Correction{
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

	return strings.Join(output, " "), corrections
}

// match finds the vocabulary term most phonetically similar to span.
// Candidates whose Double Metaphone codes overlap with the span's codes
// are ranked by Jaro-Winkler score against the phonetic threshold; when
// no phonetic candidate exists, a pure similarity pass applies the higher
// fuzzy threshold.
func (c *Corrector) match(span string) (term string, confidence float64, ok bool) {
	spanLower := strings.ToLower(strings.TrimSpace(span))
	if spanLower == "" {
		return span, 0, false
	}
	spanTokens := strings.Fields(spanLower)
	spanCodes := metaphoneCodes(spanTokens)

	var (
		best         string
		bestScore    float64
		bestPhonetic bool
	)

	for _, v := range c.vocabulary {
		vLower := strings.ToLower(strings.TrimSpace(v))
		if vLower == "" {
			continue
		}
		vTokens := strings.Fields(vLower)
		phonetic := codesOverlap(spanCodes, metaphoneCodes(vTokens))
		score := similarity(spanTokens, vTokens, spanLower, vLower)

		if phonetic {
			if score >= c.phoneticThreshold && (!bestPhonetic || score > bestScore) {
				best, bestScore, bestPhonetic = v, score, true
			}
		} else if !bestPhonetic && score >= c.fuzzyThreshold && score > bestScore {
			best, bestScore = v, score
		}
	}

	if best == "" {
		return span, 0, false
	}
	return best, bestScore, true
}

// metaphoneCodes returns the union of Double Metaphone codes for the
// tokens, excluding empty codes.
func metaphoneCodes(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

func codesOverlap(a, b map[string]struct{}) bool {
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// similarity returns the highest Jaro-Winkler score between the span and
// the term, comparing the full strings, the space-stripped strings, and
// every token pair. The pairwise pass covers the common case of one
// misheard word inside a multi-word term.
func similarity(spanTokens, termTokens []string, spanFull, termFull string) float64 {
	score := matchr.JaroWinkler(spanFull, termFull, false)

	if len(spanTokens) > 1 || len(termTokens) > 1 {
		a := strings.Join(spanTokens, "")
		b := strings.Join(termTokens, "")
		if s := matchr.JaroWinkler(a, b, false); s > score {
			score = s
		}
	}

	for _, st := range spanTokens {
		for _, tt := range termTokens {
			if s := matchr.JaroWinkler(st, tt, false); s > score {
				score = s
			}
		}
	}

	return score
}
