// Package wire implements the tag/body codec for bridge messages.
//
// A request or reply is an ordinary plain-text message whose subject carries
// a structured tag and whose body carries exactly one JSON object:
//
//	#calbridge GET list [2f1c9c1e-...-4b2a]
//	{"rangeStart":"2026-08-01","rangeEnd":"2026-08-31"}
//
// The correlation id appears only in the tag, never in the body, so the body
// schema stays a pure payload.
package wire

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Namespace prefixes every tag so bridge traffic is recognizable amid
// ordinary mail.
const Namespace = "calbridge"

// Verb is the request method embedded in a tag.
type Verb string

const (
	VerbGet    Verb = "GET"
	VerbPost   Verb = "POST"
	VerbPatch  Verb = "PATCH"
	VerbDelete Verb = "DELETE"
)

// Action is the operation name embedded in a tag.
type Action string

const (
	ActionList   Action = "list"
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionEvent  Action = "event"
	ActionHealth Action = "health"
)

var validVerbs = map[Verb]struct{}{
	VerbGet: {}, VerbPost: {}, VerbPatch: {}, VerbDelete: {},
}

var validActions = map[Action]struct{}{
	ActionList: {}, ActionCreate: {}, ActionUpdate: {}, ActionEvent: {}, ActionHealth: {},
}

// Encode builds the tag string and the body for an outbound message. A nil
// payload encodes as an empty object so the body always holds exactly one
// JSON object.
func Encode(verb Verb, action Action, correlationID string, payload any) (tag, body string, err error) {
	if _, ok := validVerbs[verb]; !ok {
		return "", "", fmt.Errorf("unknown verb %q", verb)
	}
	if _, ok := validActions[action]; !ok {
		return "", "", fmt.Errorf("unknown action %q", action)
	}
	if strings.TrimSpace(correlationID) == "" {
		return "", "", fmt.Errorf("correlation id must not be empty")
	}
	tag = fmt.Sprintf("#%s %s %s [%s]", Namespace, verb, action, correlationID)
	if payload == nil {
		return tag, "{}", nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", "", fmt.Errorf("marshal payload: %w", err)
	}
	return tag, string(raw), nil
}

// ParseTag splits a tag back into its parts. ok is false for anything that
// is not a well-formed bridge tag.
func ParseTag(tag string) (Verb, Action, string, bool) {
	fields := strings.Fields(strings.TrimSpace(tag))
	if len(fields) != 4 || fields[0] != "#"+Namespace {
		return "", "", "", false
	}
	verb, action := Verb(fields[1]), Action(fields[2])
	if _, ok := validVerbs[verb]; !ok {
		return "", "", "", false
	}
	if _, ok := validActions[action]; !ok {
		return "", "", "", false
	}
	id := fields[3]
	if len(id) < 3 || id[0] != '[' || id[len(id)-1] != ']' {
		return "", "", "", false
	}
	return verb, action, id[1 : len(id)-1], true
}

// replyQuoteMarkers are prefixes mail clients prepend to quoted history.
// The body is cut at the earliest marker before payload extraction.
var replyQuoteMarkers = []string{
	"\n>",
	"\r\n>",
	"-----Original Message-----",
	`<div class="gmail_quote"`,
}

var onWroteLine = regexp.MustCompile(`(?m)^On .{0,200}wrote:\s*$`)

// Decode extracts the JSON payload from a reply whose tag matches the given
// correlation id. It fails closed: any mismatch or malformed body yields
// ok=false, never an error, so a garbled candidate cannot abort a poll.
//
// Bodies arrive with signatures, disclaimers, and quoted history appended,
// so the text is first truncated at the earliest reply-quote marker and the
// payload is then located between the first opening and last closing brace.
func Decode(tag, body, correlationID string) (json.RawMessage, bool) {
	if correlationID == "" || !strings.Contains(tag, "["+correlationID+"]") {
		return nil, false
	}
	trimmed := truncateQuoted(body)
	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	candidate := []byte(trimmed[start : end+1])
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(candidate, &obj); err != nil {
		return nil, false
	}
	return json.RawMessage(candidate), true
}

func truncateQuoted(body string) string {
	cut := len(body)
	for _, marker := range replyQuoteMarkers {
		if i := strings.Index(body, marker); i >= 0 && i < cut {
			cut = i
		}
	}
	if loc := onWroteLine.FindStringIndex(body); loc != nil && loc[0] < cut {
		cut = loc[0]
	}
	return body[:cut]
}
