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

package analytics_test

import (
	"fmt"
	"testing"

	"github.com/veloxvoip/voicebridge/pkg/analytics"
	"github.com/veloxvoip/voicebridge/pkg/calllog"
	"github.com/veloxvoip/voicebridge/pkg/config"
)

func defaultConf() config.AnalyticsConfig {
	c := &config.Config{}
	c.ApplyDefaults()
	return c.Analytics
}

func lines(texts ...string) []calllog.Utterance {
	out := make([]calllog.Utterance, 0, len(texts))
	for i, text := range texts {
		speaker := calllog.SpeakerCaller
		if i%2 == 0 {
			speaker = calllog.SpeakerAssistant
		}
		out = append(out, calllog.Utterance{Speaker: speaker, Text: text})
	}
	return out
}

func uses(names ...string) []calllog.ToolUse {
	out := make([]calllog.ToolUse, 0, len(names))
	for i, name := range names {
		out = append(out, calllog.ToolUse{Name: name, CallID: fmt.Sprintf("call_%d", i), Status: "ok"})
	}
	return out
}

func TestSentiment(t *testing.T) {
	a := analytics.New(defaultConf())
	tests := []struct {
		name       string
		transcript []calllog.Utterance
		want       calllog.Sentiment
	}{
		{"empty", nil, calllog.SentimentNeutral},
		{"neutral", lines("Hello, this is the front desk.", "I am calling about opening hours."), calllog.SentimentNeutral},
		{"positive", lines("Great, perfect!", "Thanks, that was excellent and helpful."), calllog.SentimentPositive},
		{"negative", lines("This is terrible.", "I am angry and frustrated, I want a refund."), calllog.SentimentNegative},
		{"within margin", lines("great", "good", "bad"), calllog.SentimentNeutral},
		{"case insensitive", lines("GREAT", "Excellent", "PERFECT", "Awesome"), calllog.SentimentPositive},
		{"word boundaries", lines("goodness gracious", "badge", "greatest"), calllog.SentimentNeutral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.Sentiment(tt.transcript); got != tt.want {
				t.Errorf("Sentiment() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestSentimentDeterministic(t *testing.T) {
	transcript := lines("thanks, that is great", "but the last order was wrong", "sure, happy to fix it")
	first := analytics.New(defaultConf()).Sentiment(transcript)
	for i := 0; i < 50; i++ {
		if got := analytics.New(defaultConf()).Sentiment(transcript); got != first {
			t.Fatalf("run %d: Sentiment() = %s, first run %s", i, got, first)
		}
	}
}

func TestSentimentCustomWords(t *testing.T) {
	conf := defaultConf()
	conf.PositiveWords = []string{"muy bien"}
	conf.NegativeWords = []string{"mal"}
	conf.SentimentMargin = 0
	a := analytics.New(conf)

	pos, neg := a.SentimentCounts("muy bien, muy bien, mal")
	if pos != 2 || neg != 1 {
		t.Fatalf("SentimentCounts() = %d, %d, want 2, 1", pos, neg)
	}
	if got := a.Sentiment(lines("muy bien")); got != calllog.SentimentPositive {
		t.Errorf("Sentiment() = %s, want positive", got)
	}
}

func TestLeadScoreBaseline(t *testing.T) {
	a := analytics.New(defaultConf())
	transcript := lines("Hello, this is the front desk.", "I am calling about opening hours.")
	if got := a.LeadScore(nil, len(transcript)); got != 52 {
		t.Errorf("LeadScore() = %d, want 52", got)
	}
	if got := a.Sentiment(transcript); got != calllog.SentimentNeutral {
		t.Errorf("Sentiment() = %s, want neutral", got)
	}
}

func TestLeadScoreWeights(t *testing.T) {
	a := analytics.New(defaultConf())
	tests := []struct {
		name  string
		tools []calllog.ToolUse
		turns int
		want  int
	}{
		{"no activity", nil, 0, 50},
		{"one tool", uses("get_pricing"), 0, 55},
		{"high value tool", uses("create_booking"), 0, 70},
		{"turns capped", nil, 40, 60},
		{"everything", uses("get_pricing", "create_booking"), 4, 79},
		{"clamped high", uses("create_booking", "create_booking", "schedule_appointment"), 10, 100},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.LeadScore(tt.tools, tt.turns); got != tt.want {
				t.Errorf("LeadScore() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestLeadScoreMonotonicAndClamped(t *testing.T) {
	a := analytics.New(defaultConf())
	prev := -1
	var tools []calllog.ToolUse
	for n := 0; n <= 300; n++ {
		score := a.LeadScore(tools, 6)
		if score < prev {
			t.Fatalf("score dropped from %d to %d at %d tools", prev, score, n)
		}
		if score < 0 || score > 100 {
			t.Fatalf("score %d out of range at %d tools", score, n)
		}
		prev = score
		name := "get_pricing"
		if n%3 == 0 {
			name = "create_booking"
		}
		tools = append(tools, calllog.ToolUse{Name: name, Status: "ok"})
	}
	if prev != 100 {
		t.Errorf("score with 300 tools = %d, want 100", prev)
	}

	conf := defaultConf()
	conf.BaseScore = -500
	if got := analytics.New(conf).LeadScore(nil, 0); got != 0 {
		t.Errorf("negative base LeadScore() = %d, want 0", got)
	}
}

func TestOutcomes(t *testing.T) {
	a := analytics.New(defaultConf())
	failed := calllog.ToolUse{Name: "create_booking", Status: "error"}

	tests := []struct {
		name       string
		transcript []calllog.Utterance
		tools      []calllog.ToolUse
		sentiment  calllog.Sentiment
		want       calllog.Outcomes
	}{
		{"nothing", nil, nil, calllog.SentimentNeutral, calllog.Outcomes{}},
		{"booking succeeded", nil, uses("create_booking"), calllog.SentimentNeutral, calllog.Outcomes{Conversion: true}},
		{"booking failed", nil, []calllog.ToolUse{failed}, calllog.SentimentNeutral, calllog.Outcomes{FollowUpNeeded: true}},
		{"escalation tool", nil, uses("transfer_to_human"), calllog.SentimentNeutral, calllog.Outcomes{Escalated: true}},
		{"caller asks for manager", lines("How can I help?", "Let me talk to your manager."), nil, calllog.SentimentNeutral, calllog.Outcomes{Escalated: true}},
		{"assistant mention ignored", lines("A human will call you back."), nil, calllog.SentimentNeutral, calllog.Outcomes{}},
		{"negative call", nil, nil, calllog.SentimentNegative, calllog.Outcomes{FollowUpNeeded: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.Outcomes(tt.transcript, tt.tools, tt.sentiment); got != tt.want {
				t.Errorf("Outcomes() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestApply(t *testing.T) {
	rec := &calllog.Record{
		CallID:     "CA1",
		Transcript: lines("Hello, this is the front desk.", "I need a table for two."),
		Tools:      uses("create_booking"),
	}
	analytics.New(defaultConf()).Apply(rec)
	if rec.Sentiment != calllog.SentimentNeutral {
		t.Errorf("Sentiment = %s", rec.Sentiment)
	}
	if rec.LeadScore != 72 {
		t.Errorf("LeadScore = %d, want 72", rec.LeadScore)
	}
	if !rec.Outcomes.Conversion {
		t.Errorf("Outcomes = %+v, want conversion", rec.Outcomes)
	}
}
