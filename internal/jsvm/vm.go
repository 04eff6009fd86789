// Package jsvm 将策略源码编译为 goja 程序并在隔离的运行时中执行。
// 策略只能通过注入的能力对象访问宿主，运行时本身不挂载任何宿主全局量。
package jsvm

import (
	"fmt"

	"github.com/dop251/goja"
)

// Compile 将策略源码编译为可复用的程序；同一份代码在多个 tick 间复用编译结果
func Compile(name, source string) (*goja.Program, error) {
	program, err := goja.Compile(name, source, true)
	if err != nil {
		return nil, fmt.Errorf("failed to compile strategy %s: %w", name, err)
	}
	return program, nil
}

// Runner 单次 tick 的隔离运行时。每个 tick 都新建，避免上一个 tick 的
// 全局量污染下一个 tick。
type Runner struct {
	rt *goja.Runtime
}

// NewRunner 创建隔离运行时并装载程序（执行顶层代码，定义 main）
func NewRunner(program *goja.Program) (*Runner, error) {
	rt := goja.New()
	rt.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if _, err := rt.RunProgram(program); err != nil {
		return nil, fmt.Errorf("failed to load strategy program: %w", err)
	}
	return &Runner{rt: rt}, nil
}

// Runtime 暴露底层运行时，供能力对象构造使用
func (r *Runner) Runtime() *goja.Runtime {
	return r.rt
}

// CallMain 调用策略入口 main(bot)。策略抛出的异常作为 error 返回。
func (r *Runner) CallMain(capability *goja.Object) error {
	value := r.rt.GlobalObject().Get("main")
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return fmt.Errorf("strategy main entry point not found")
	}
	callable, ok := goja.AssertFunction(value)
	if !ok {
		return fmt.Errorf("strategy main is not callable")
	}
	if _, err := callable(goja.Undefined(), capability); err != nil {
		return fmt.Errorf("strategy main threw: %w", err)
	}
	return nil
}
