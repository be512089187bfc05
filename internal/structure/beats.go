package structure

import "regexp"

// An element-bound section is complete when it says what is present,
// connects it to the querent, and points at a next step.
var (
	presentBeat = regexp.MustCompile(`(?i)\b(?:shows?|appears?|represents?|reflects?|signals?|signifies|speaks? (?:of|to)|points? to|highlights?|indicates?|currently|right now|at present|this card|sits? in|lands? in)\b`)

	connectorBeat = regexp.MustCompile(`(?i)\b(?:because|since|which means|this means|that means|so that|therefore|connects?|connected|linked|ties? (?:back|in|to)|relates? to|mirrors?|echoes|given (?:that|your)|in light of|as a result)\b`)

	nextBeat = regexp.MustCompile(`(?i)\b(?:next|going forward|moving forward|consider|try|ask yourself|you (?:might|could|may|can)|step|practice|this week|today|tomorrow|in the coming|focus on|allow yourself|invites? you|make room)\b`)
)

// Beats records which narrative beats a section body contains
type Beats struct {
	Present   bool
	Connector bool
	Next      bool
}

// Complete reports whether all three beats are present
func (b Beats) Complete() bool {
	return b.Present && b.Connector && b.Next
}

// DetectBeats scans a section body for the three narrative beats
func DetectBeats(body string) Beats {
	return Beats{
		Present:   presentBeat.MatchString(body),
		Connector: connectorBeat.MatchString(body),
		Next:      nextBeat.MatchString(body),
	}
}
