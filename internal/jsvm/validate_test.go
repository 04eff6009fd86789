package jsvm

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

const validSource = `
// @param interval string 5m
function main(bot) {
	bot.log("tick");
	bot.schedule("5m");
}
`

func TestValidateAcceptsWellFormedStrategy(t *testing.T) {
	require.NoError(t, Validate(validSource, 0))
}

func TestValidateRejectsEmptyCode(t *testing.T) {
	require.Error(t, Validate("", 0))
}

func TestValidateRejectsOversizedCode(t *testing.T) {
	padding := "// " + strings.Repeat("x", 200) + "\n"
	source := "function main(bot) {}\n" + strings.Repeat(padding, 10)
	require.Error(t, Validate(source, 100))
	require.NoError(t, Validate(source, 1<<20))
}

func TestValidateRequiresMainEntryPoint(t *testing.T) {
	require.Error(t, Validate(`var run = function(bot) {};`, 0))
	require.NoError(t, Validate(`const main = (bot) => {};`, 0))
	require.NoError(t, Validate(`var main = function(bot) {};`, 0))
}

func TestValidateDenylist(t *testing.T) {
	snippets := []string{
		`require("fs")`,
		`import("mod")`,
		`import x from "mod";`,
		`fetch("http://example.com")`,
		`new XMLHttpRequest()`,
		`new WebSocket("ws://x")`,
		`globalThis.x = 1`,
		`process.exit(0)`,
		`obj.__proto__ = null`,
		`Object.setPrototypeOf(a, b)`,
		`Object.defineProperty(a, "b", {})`,
		`x.constructor.constructor("return 1")`,
		`Function("return 1")`,
		`eval("1")`,
		`Reflect.get(a, "b")`,
	}
	for _, snippet := range snippets {
		source := "function main(bot) { " + snippet + " }"
		require.Error(t, Validate(source, 0), "snippet %q should be rejected", snippet)
	}
}

func TestValidateDenylistImportMidStatement(t *testing.T) {
	// import 出现在语句位置时同样拦截，不限于行首
	require.Error(t, Validate(`function main(bot) { bot.log(1); import x from "mod"; }`, 0))
	require.Error(t, Validate("import x from \"mod\";\nfunction main(bot) {}", 0))
	require.Error(t, Validate("\t import x from \"mod\";\nfunction main(bot) {}", 0))
	// 标识符中包含 import 子串不应误伤
	require.NoError(t, Validate(`function main(bot) { var importantValue = 1; bot.log(importantValue); }`, 0))
}

func TestCompileRejectsSyntaxErrors(t *testing.T) {
	_, err := Compile("bad.js", "function main( {")
	require.Error(t, err)
}

func TestRunnerCallMain(t *testing.T) {
	program, err := Compile("ok.js", `
		var called = false;
		function main(bot) { called = true; }
	`)
	require.NoError(t, err)

	runner, err := NewRunner(program)
	require.NoError(t, err)

	obj := runner.Runtime().NewObject()
	require.NoError(t, runner.CallMain(obj))

	called := runner.Runtime().GlobalObject().Get("called")
	require.True(t, called.ToBoolean())
}

func TestRunnerCallMainMissingEntry(t *testing.T) {
	program, err := Compile("none.js", `var x = 1;`)
	require.NoError(t, err)

	runner, err := NewRunner(program)
	require.NoError(t, err)
	require.Error(t, runner.CallMain(runner.Runtime().NewObject()))
}

func TestRunnerThrownErrorSurfaces(t *testing.T) {
	program, err := Compile("throw.js", `function main(bot) { throw new Error("boom"); }`)
	require.NoError(t, err)

	runner, err := NewRunner(program)
	require.NoError(t, err)

	err = runner.CallMain(runner.Runtime().NewObject())
	require.Error(t, err)
	require.Contains(t, err.Error(), "boom")
}
