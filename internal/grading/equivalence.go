package grading

import "strings"

// Multiple-choice answers arrive in more than one script: the canonical key
// may be an Arabic letter while the client submits the Latin ordinal, and
// the bare alif is interchangeable with the hamza form. Each row is one
// equivalence class; every member maps to the full class.
var equivalenceClasses = [][]string{
	{"أ", "ا", "A"},
	{"ب", "B"},
	{"ج", "C"},
	{"د", "D"},
}

var variantsByToken map[string][]string

func init() {
	variantsByToken = make(map[string][]string)
	for _, class := range equivalenceClasses {
		members := append([]string(nil), class...)
		for _, token := range class {
			variantsByToken[token] = members
		}
	}
}

// Variants returns the acceptable tokens for a correct-answer token. A token
// with no equivalence class is its own sole variant (exact-match fallback).
func Variants(token string) []string {
	token = strings.TrimSpace(token)
	if v, ok := variantsByToken[token]; ok {
		return v
	}
	return []string{token}
}

// Match reports whether a submitted answer is an acceptable variant of the
// correct answer. Both sides are trimmed; any further normalization is the
// equivalence table's job, not ad hoc string transforms.
func Match(correctAnswer, submittedAnswer string) bool {
	submittedAnswer = strings.TrimSpace(submittedAnswer)
	for _, v := range Variants(correctAnswer) {
		if v == submittedAnswer {
			return true
		}
	}
	return false
}
