package llm

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Decision is the outcome of the rule-based fallback responder. Either
// Answer is set, or Tool names a registry tool to consult together with
// its input. The fallback never selects the execution tool: running
// untrusted code stays behind an explicit user request.
type Decision struct {
	Answer string
	Tool   string
	Input  map[string]interface{}
	Rule   string
}

// FallbackRule pairs a boolean condition, written in expression syntax,
// with the action to take when the condition holds. Rules are evaluated
// in order and the first match wins.
type FallbackRule struct {
	Name    string
	When    string
	Tool    string
	Answer  string
	program *vm.Program
}

// FallbackResponder produces deterministic answers when no LLM provider
// is reachable. It routes code snippets to the explain tool, lookups to
// the search tool, and everything else to a fixed offline notice.
type FallbackResponder struct {
	rules []FallbackRule
}

var fencedCodeRE = regexp.MustCompile("(?s)```(?:[a-zA-Z0-9]*)\\n(.*?)```")

// DefaultFallbackRules returns the built-in rule set, in priority order.
func DefaultFallbackRules() []FallbackRule {
	return []FallbackRule{
		{
			Name: "explain-code",
			When: `has_code`,
			Tool: "explain",
		},
		{
			Name: "run-request",
			When: `any(["run", "execute", "output of"], {q contains #})`,
			Answer: "I can't run code right now because no language model is available. " +
				"Paste the snippet and ask me to explain it, or try again once a provider is configured.",
		},
		{
			Name: "lookup",
			When: `any(["what is", "how do", "how to", "difference between", "when should"], {q startsWith # or q contains #})`,
			Tool: "search",
		},
		{
			Name: "greeting",
			When: `q in ["hi", "hello", "hey"] or q startsWith "hello"`,
			Answer: "Hello! I'm running in offline mode, so my answers come from built-in " +
				"references. Ask me about a programming concept or paste code for me to explain.",
		},
	}
}

// NewFallbackResponder compiles the given rules. Pass nil to use the
// defaults.
func NewFallbackResponder(rules []FallbackRule) (*FallbackResponder, error) {
	if rules == nil {
		rules = DefaultFallbackRules()
	}
	compiled := make([]FallbackRule, len(rules))
	for i, r := range rules {
		program, err := expr.Compile(r.When, expr.AsBool())
		if err != nil {
			return nil, fmt.Errorf("fallback rule %q: compile %q: %w", r.Name, r.When, err)
		}
		r.program = program
		compiled[i] = r
	}
	return &FallbackResponder{rules: compiled}, nil
}

// Respond evaluates the rules against the question and returns the first
// matching decision. It always returns a usable Decision; when no rule
// matches, the answer is a fixed offline notice.
func (f *FallbackResponder) Respond(question string) Decision {
	code, lang := ExtractCode(question)
	env := map[string]interface{}{
		"question": question,
		"q":        strings.ToLower(strings.TrimSpace(question)),
		"has_code": code != "",
		"code":     code,
		"language": lang,
	}

	for _, r := range f.rules {
		matched, err := expr.Run(r.program, env)
		if err != nil {
			continue
		}
		ok, _ := matched.(bool)
		if !ok {
			continue
		}
		d := Decision{Rule: r.Name, Answer: r.Answer, Tool: r.Tool}
		switch r.Tool {
		case "explain":
			d.Input = map[string]interface{}{"code": code, "language": lang}
		case "search":
			d.Input = map[string]interface{}{"query": question}
		case "knowledge":
			d.Input = map[string]interface{}{"query": question}
		}
		return d
	}

	return Decision{
		Rule: "default",
		Answer: "No language model is available right now, and I don't have a built-in " +
			"answer for that. Try asking about a programming concept, or paste a code " +
			"snippet for me to explain.",
	}
}

// ExtractCode pulls a code snippet out of free-form text. Fenced blocks
// win; otherwise indented or keyword-bearing lines are treated as code.
// The second return value is the detected language, or "" if unknown.
func ExtractCode(text string) (code, language string) {
	if m := fencedCodeRE.FindStringSubmatch(text); m != nil {
		code = strings.TrimSpace(m[1])
		return code, DetectLanguage(code)
	}

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(line, "    ") || strings.HasPrefix(line, "\t") || looksLikeCode(trimmed) {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return "", ""
	}
	code = strings.Join(lines, "\n")
	return code, DetectLanguage(code)
}

func looksLikeCode(line string) bool {
	prefixes := []string{
		"def ", "class ", "import ", "from ", "func ", "package ", "var ",
		"const ", "let ", "function ", "public ", "private ", "#include",
		"if ", "for ", "while ", "return ",
	}
	for _, p := range prefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return strings.HasSuffix(line, "{") || strings.HasSuffix(line, ";") || strings.HasSuffix(line, ":")
}

// DetectLanguage guesses the programming language of a snippet from
// keyword frequency. Returns "" when nothing scores.
func DetectLanguage(code string) string {
	scores := map[string]int{}
	markers := map[string][]string{
		"go":         {"func ", "package ", ":= ", "fmt.", "chan ", "go func"},
		"python":     {"def ", "elif ", "self.", "print(", "import ", "lambda ", "__init__"},
		"javascript": {"function ", "=> ", "const ", "let ", "console.log", "===", "async "},
		"java":       {"public class", "public static", "System.out", "private ", "extends ", "@Override"},
		"c":          {"#include", "printf(", "malloc(", "int main", "->", "sizeof"},
	}
	for lang, kws := range markers {
		for _, kw := range kws {
			scores[lang] += strings.Count(code, kw)
		}
	}
	// Ambiguous markers shared between languages get broken by specifics.
	best, bestScore := "", 0
	for _, lang := range []string{"go", "python", "javascript", "java", "c"} {
		if scores[lang] > bestScore {
			best, bestScore = lang, scores[lang]
		}
	}
	return best
}
