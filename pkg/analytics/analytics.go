// Copyright 2025 VeloxVoIP
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// 	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package analytics derives end-of-call sentiment, lead score and outcome flags.
// Every function is deterministic for a given transcript and tool log.
package analytics

import (
	"regexp"
	"strings"

	"github.com/veloxvoip/voicebridge/pkg/calllog"
	"github.com/veloxvoip/voicebridge/pkg/config"
)

var (
	DefaultPositiveWords = []string{
		"great", "good", "excellent", "perfect", "thanks", "thank", "happy", "love",
		"wonderful", "awesome", "amazing", "helpful", "interested", "yes", "sure",
	}
	DefaultNegativeWords = []string{
		"bad", "terrible", "awful", "angry", "upset", "frustrated", "cancel", "refund",
		"complaint", "problem", "issue", "disappointed", "wrong", "hate", "worst",
	}
	DefaultEscalationWords = []string{"manager", "human", "supervisor", "representative"}
)

type Analyzer struct {
	conf config.AnalyticsConfig

	positive   *regexp.Regexp
	negative   *regexp.Regexp
	escalation *regexp.Regexp

	highValue       map[string]struct{}
	escalationTools map[string]struct{}
	conversionTools map[string]struct{}
}

// New builds an Analyzer. Empty word lists fall back to the defaults above.
func New(conf config.AnalyticsConfig) *Analyzer {
	pos := conf.PositiveWords
	if len(pos) == 0 {
		pos = DefaultPositiveWords
	}
	neg := conf.NegativeWords
	if len(neg) == 0 {
		neg = DefaultNegativeWords
	}
	return &Analyzer{
		conf:            conf,
		positive:        wordMatcher(pos),
		negative:        wordMatcher(neg),
		escalation:      wordMatcher(DefaultEscalationWords),
		highValue:       toSet(conf.HighValueTools),
		escalationTools: toSet(conf.EscalationTools),
		conversionTools: toSet(conf.ConversionTools),
	}
}

// wordMatcher compiles a case-insensitive, word-boundary alternation.
func wordMatcher(words []string) *regexp.Regexp {
	quoted := make([]string, 0, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w != "" {
			quoted = append(quoted, regexp.QuoteMeta(w))
		}
	}
	if len(quoted) == 0 {
		return nil
	}
	return regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
}

func toSet(names []string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

func count(re *regexp.Regexp, text string) int {
	if re == nil || text == "" {
		return 0
	}
	return len(re.FindAllStringIndex(text, -1))
}

func joinTranscript(transcript []calllog.Utterance) string {
	var sb strings.Builder
	for i, u := range transcript {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(u.Text)
	}
	return sb.String()
}

// SentimentCounts returns the positive and negative keyword hits in text.
func (a *Analyzer) SentimentCounts(text string) (positive, negative int) {
	return count(a.positive, text), count(a.negative, text)
}

func (a *Analyzer) Sentiment(transcript []calllog.Utterance) calllog.Sentiment {
	pos, neg := a.SentimentCounts(joinTranscript(transcript))
	switch {
	case pos-neg > a.conf.SentimentMargin:
		return calllog.SentimentPositive
	case neg-pos > a.conf.SentimentMargin:
		return calllog.SentimentNegative
	default:
		return calllog.SentimentNeutral
	}
}

// LeadScore is base + per-invocation points + high-value bonuses + capped turn points,
// clamped to [0, 100].
func (a *Analyzer) LeadScore(tools []calllog.ToolUse, turns int) int {
	score := a.conf.BaseScore
	score += a.conf.PerToolPoints * len(tools)
	for _, t := range tools {
		if _, ok := a.highValue[t.Name]; ok {
			score += a.conf.HighValueBonus
		}
	}

	turnPoints := turns * a.conf.TurnPoints
	if a.conf.TurnCap > 0 && turnPoints > a.conf.TurnCap {
		turnPoints = a.conf.TurnCap
	}
	if turnPoints > 0 {
		score += turnPoints
	}

	return clamp(score, 0, 100)
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func (a *Analyzer) Outcomes(transcript []calllog.Utterance, tools []calllog.ToolUse, sentiment calllog.Sentiment) calllog.Outcomes {
	var out calllog.Outcomes
	for _, t := range tools {
		if _, ok := a.escalationTools[t.Name]; ok {
			out.Escalated = true
		}
		if _, ok := a.conversionTools[t.Name]; ok && !t.Failed() {
			out.Conversion = true
		}
		if t.Failed() {
			out.FollowUpNeeded = true
		}
	}
	if !out.Escalated {
		for _, u := range transcript {
			if u.Speaker == calllog.SpeakerCaller && count(a.escalation, u.Text) > 0 {
				out.Escalated = true
				break
			}
		}
	}
	if sentiment == calllog.SentimentNegative {
		out.FollowUpNeeded = true
	}
	return out
}

// Apply fills the derived fields of rec from its transcript and tool log.
func (a *Analyzer) Apply(rec *calllog.Record) {
	rec.Sentiment = a.Sentiment(rec.Transcript)
	rec.LeadScore = a.LeadScore(rec.Tools, rec.Turns())
	rec.Outcomes = a.Outcomes(rec.Transcript, rec.Tools, rec.Sentiment)
}
