package jsvm

import (
	"fmt"
	"regexp"
)

// DefaultMaxCodeBytes 策略源码默认大小上限
const DefaultMaxCodeBytes = 128 * 1024

// entryRe 策略必须声明 main 入口
var entryRe = regexp.MustCompile(`(?m)(function\s+main\s*\(|(?:const|let|var)\s+main\s*=)`)

// denyRule 源码级逃逸黑名单。这是纵深防御，不是主隔离边界：
// 主边界是“宿主能力只通过注入对象暴露”。
type denyRule struct {
	pattern *regexp.Regexp
	reason  string
}

var denyRules = []denyRule{
	{regexp.MustCompile(`\brequire\s*\(`), "dynamic module loading is not allowed"},
	{regexp.MustCompile(`\bimport\s*\(`), "dynamic import is not allowed"},
	{regexp.MustCompile(`(?m)(^|[;{}])\s*import\s`), "module import is not allowed"},
	{regexp.MustCompile(`\bfetch\s*\(`), "raw network access is not allowed"},
	{regexp.MustCompile(`\bXMLHttpRequest\b`), "raw network access is not allowed"},
	{regexp.MustCompile(`\bWebSocket\b`), "raw network access is not allowed"},
	{regexp.MustCompile(`\bglobalThis\b`), "host global scope access is not allowed"},
	{regexp.MustCompile(`\bprocess\b\s*\.`), "host process access is not allowed"},
	{regexp.MustCompile(`__proto__`), "prototype chain tampering is not allowed"},
	{regexp.MustCompile(`\bObject\s*\.\s*(setPrototypeOf|defineProperty)\b`), "prototype chain tampering is not allowed"},
	{regexp.MustCompile(`\bconstructor\s*\.\s*constructor\b`), "constructing code at runtime is not allowed"},
	{regexp.MustCompile(`\bFunction\s*\(`), "constructing code at runtime is not allowed"},
	{regexp.MustCompile(`\beval\s*\(`), "constructing code at runtime is not allowed"},
	{regexp.MustCompile(`\bReflect\s*\.`), "reflection into the host is not allowed"},
}

// Validate 在每次执行前校验策略源码：大小上限、必须声明 main 入口、逃逸黑名单。
// 校验失败的策略不会被执行。
func Validate(source string, maxBytes int) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxCodeBytes
	}
	if len(source) == 0 {
		return fmt.Errorf("strategy code is empty")
	}
	if len(source) > maxBytes {
		return fmt.Errorf("strategy code exceeds size limit: %d > %d bytes", len(source), maxBytes)
	}
	if !entryRe.MatchString(source) {
		return fmt.Errorf("strategy code must declare a main entry point")
	}
	for _, rule := range denyRules {
		if loc := rule.pattern.FindStringIndex(source); loc != nil {
			return fmt.Errorf("forbidden pattern %q: %s", source[loc[0]:loc[1]], rule.reason)
		}
	}
	return nil
}
