package grading

import (
	"encoding/json"
	"strconv"
	"strings"
)

type singleChoiceStrategy struct{}

func (singleChoiceStrategy) Correct(key, answer json.RawMessage) bool {
	want, ok := parseIndex(key)
	if !ok {
		return false
	}
	got, ok := parseIndex(answer)
	return ok && got == want
}

type multipleChoiceStrategy struct{}

func (multipleChoiceStrategy) Correct(key, answer json.RawMessage) bool {
	want, ok := parseIndexSet(key)
	if !ok {
		return false
	}
	got, ok := parseIndexSet(answer)
	if !ok || len(got) != len(want) {
		return false
	}
	for i := range want {
		if _, found := got[i]; !found {
			return false
		}
	}
	return true
}

type fillInStrategy struct{}

func (fillInStrategy) Correct(key, answer json.RawMessage) bool {
	var want, got string
	if err := json.Unmarshal(key, &want); err != nil {
		return false
	}
	if err := json.Unmarshal(answer, &got); err != nil {
		return false
	}
	got = normalize(got)
	return got != "" && got == normalize(want)
}

// normalize trims surrounding whitespace and case-folds.
func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// parseIndex accepts a JSON integer or a string holding one.
func parseIndex(raw json.RawMessage) (int, bool) {
	var n int
	if err := json.Unmarshal(raw, &n); err == nil {
		return n, n >= 0
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// parseIndexSet decodes a list of indices into a set; duplicates collapse.
func parseIndexSet(raw json.RawMessage) (map[int]struct{}, bool) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, false
	}
	set := make(map[int]struct{}, len(items))
	for _, item := range items {
		n, ok := parseIndex(item)
		if !ok {
			return nil, false
		}
		set[n] = struct{}{}
	}
	return set, true
}
