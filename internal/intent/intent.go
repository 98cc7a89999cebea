// Package intent decides whether a request asks for an animation at all.
package intent

import (
	"regexp"
	"strings"
)

const (
	strongWeight = 0.45
	mediumWeight = 0.20
	chartWeight  = 0.10

	// Threshold is the minimum score for a request without code to count as an
	// animation request.
	Threshold = 0.45

	maxReasonsPerKind = 5
)

// Result describes the outcome of Detect.
type Result struct {
	Requested bool     `json:"animation_requested"`
	HasCode   bool     `json:"has_code"`
	Score     float64  `json:"confidence"`
	Reasons   []string `json:"reasons,omitempty"`
}

var (
	strongRe = anyOf(
		`\banimasi\b`, `\banimasikan\b`, `\banimate\b`, `\banimation\b`, `\banimating\b`, `\banimated\b`,
		`\bgerakkan\b`, `\bbergerak\b`, `\bmanim\b`, `\bvideo\b`, `\bmp4\b`, `\bgif\b`, `\brender\b`, `\bpreview\b`,
	)
	mediumRe = anyOf(
		`\bframes?\b`, `\btimeline\b`, `\btime[\s-]?series\b`, `\btime[\s-]?lapse\b`,
		`\bper\s*tahun\b`, `\bper\s*waktu\b`, `\bper\s*year\b`, `\bover\s*time\b`,
	)
	codeRe = anyOf(`\bclass\s+GenScene\b`, `\bfrom\s+manim\s+import\b`, `\bScene\):`)

	// chartRe only nudges the score. Picking a chart type is left to whoever
	// builds the chart spec.
	chartRe = anyOf(
		`\bbubble\b`, `\bscatter\b`, `\bdistribution\b`, `\bhistogram\b`, `\bbar\s*(chart\s*)?race\b`,
		`\branking\b`, `\bline\s*(chart|graph)\b`, `\btrend\b`, `\bdashboard\b`, `\bkpi\b`,
	)
)

func anyOf(patterns ...string) *regexp.Regexp {
	return regexp.MustCompile(`(?im)(?:` + strings.Join(patterns, `)|(?:`) + `)`)
}

// Detect scores message. Code cues always count as a request. Otherwise each
// strong keyword adds 0.45, each medium keyword 0.20 and a chart keyword 0.10,
// capped at 1.0.
func Detect(message string) Result {
	code := labelled("code", codeRe.FindAllString(message, -1))
	strong := labelled("strong", strongRe.FindAllString(message, -1))
	medium := labelled("medium", mediumRe.FindAllString(message, -1))

	var reasons []string
	reasons = append(reasons, code...)
	reasons = append(reasons, strong...)
	reasons = append(reasons, medium...)

	if len(code) > 0 {
		return Result{Requested: true, HasCode: true, Score: 1.0, Reasons: reasons}
	}

	score := float64(len(strong))*strongWeight + float64(len(medium))*mediumWeight
	if chartRe.MatchString(message) {
		score += chartWeight
	}
	if score > 1.0 {
		score = 1.0
	}
	return Result{Requested: score >= Threshold, Score: score, Reasons: reasons}
}

// HasCode reports whether message carries scene source rather than a prompt.
func HasCode(message string) bool {
	return strings.Contains(message, "class GenScene")
}

func labelled(label string, matches []string) []string {
	if len(matches) > maxReasonsPerKind {
		matches = matches[:maxReasonsPerKind]
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		out = append(out, label+":"+m)
	}
	return out
}
