package prompts

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"sort"
	"strings"
)

// variablePattern matches the leading name of Twig output expressions and
// loop sources: {{ name }}, {{ f.Name }}, {% for x in name %}, {% if name %}.
var variablePattern = regexp.MustCompile(`(?:\{\{\s*|\{%\s*(?:if|elseif)\s+|\{%\s*for\s+\w+\s+in\s+)([a-zA-Z_][a-zA-Z0-9_]*)`)

// loopVarPattern captures loop variable names, which are local and not inputs.
var loopVarPattern = regexp.MustCompile(`\{%\s*for\s+(\w+)\s+in\s`)

// ExtractVariables returns the top-level variables a Twig template reads,
// sorted. Loop variables are excluded.
func ExtractVariables(text string) []string {
	local := make(map[string]bool)
	for _, m := range loopVarPattern.FindAllStringSubmatch(text, -1) {
		local[m[1]] = true
	}

	seen := make(map[string]bool)
	var vars []string
	for _, match := range variablePattern.FindAllStringSubmatch(text, -1) {
		name := match[1]
		if local[name] || seen[name] || isKeyword(name) {
			continue
		}
		seen[name] = true
		vars = append(vars, name)
	}

	sort.Strings(vars)
	return vars
}

func isKeyword(name string) bool {
	switch strings.ToLower(name) {
	case "not", "true", "false", "null":
		return true
	}
	return false
}

// HashText returns a SHA256 hash of the text for change detection.
func HashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
