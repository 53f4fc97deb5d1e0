package xapi

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

const (
	// Version is the only xAPI version this LRS speaks.
	Version = "1.0.0"

	VerbCompleted = "http://adlnet.gov/expapi/verbs/completed"
	VerbPassed    = "http://adlnet.gov/expapi/verbs/passed"
)

// DefaultCompletionVerbs is used when no verb list is configured.
const DefaultCompletionVerbs = VerbCompleted + "," + VerbPassed

// VerbSet is the set of verb IRIs that mark content completed.
type VerbSet map[string]struct{}

// ParseVerbSet reads a comma separated verb list. Entries are trimmed and
// empty entries are ignored.
func ParseVerbSet(list string) VerbSet {
	set := make(VerbSet)
	for _, v := range strings.Split(list, ",") {
		if v = strings.TrimSpace(v); v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// Contains reports exact, case-sensitive membership.
func (s VerbSet) Contains(verb string) bool {
	_, ok := s[verb]
	return ok
}

// Normalized holds the fields of a statement the rest of the pipeline uses.
type Normalized struct {
	Version     string   `json:"version"`
	StatementID string   `json:"statementId"`
	Verb        string   `json:"verb"`
	ObjectID    string   `json:"object"`
	ActorName   *string  `json:"actor"`
	Completion  *bool    `json:"completion"`
	Completed   bool     `json:"completed"`
	Score       *float64 `json:"score"`
}

// Normalize extracts the pipeline fields from s. Completion is decided by
// verb membership alone; result.completion is carried for reference only.
// requestVersion is used when the statement does not declare a version.
func Normalize(requestVersion string, s Statement, verbs VerbSet) Normalized {
	n := Normalized{
		Version:     firstNonEmpty(s.Version, requestVersion, Version),
		StatementID: s.ID,
		Verb:        s.Verb.ID,
		ObjectID:    norm.NFC.String(s.Object.ID),
		Completed:   verbs.Contains(s.Verb.ID),
	}

	if s.Actor.Agent != nil && s.Actor.Agent.Account != nil {
		name := norm.NFC.String(s.Actor.Agent.Account.Name)
		n.ActorName = &name
	}

	if s.Result != nil {
		n.Completion = s.Result.Completion
		if s.Result.Score != nil && s.Result.Score.Raw != nil {
			raw := *s.Result.Score.Raw
			n.Score = &raw
		}
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
