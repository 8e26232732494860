/*
 * @module service/datasource/script
 * @description Yaegi 能量变换脚本执行器，把用户提供的函数体编译为逐值变换函数
 * @architecture 解释器沙箱 + 编译缓存
 * @documentReference DESIGN.md
 * @stateFlow 脚本 -> sha1 -> 查缓存 -> 包装为 Transform 函数 -> 编译 -> 取函数
 * @rules 脚本只能使用 math 包；函数签名固定为 func(e float64) float64
 * @dependencies github.com/traefik/yaegi
 * @refs base.go
 */

package datasource

import (
	"crypto/sha1"
	"fmt"
	"sync"
	"time"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// YaegiScriptExecutor Yaegi脚本执行器实现，按脚本哈希缓存编译结果
type YaegiScriptExecutor struct {
	mu    sync.RWMutex
	cache map[string]*CompiledScript
}

// CompiledScript 编译后的脚本
type CompiledScript struct {
	fn       func(float64) float64
	compiled time.Time
	hash     string
}

// NewYaegiScriptExecutor 创建Yaegi脚本执行器
func NewYaegiScriptExecutor() *YaegiScriptExecutor {
	return &YaegiScriptExecutor{
		cache: make(map[string]*CompiledScript),
	}
}

// Compile 编译脚本，脚本体中可使用参数 e，例如 "return e * 1000"
func (y *YaegiScriptExecutor) Compile(script string) (func(float64) float64, error) {
	hash := fmt.Sprintf("%x", sha1.Sum([]byte(script)))

	y.mu.RLock()
	compiled, ok := y.cache[hash]
	y.mu.RUnlock()
	if ok {
		return compiled.fn, nil
	}

	compiled, err := y.compile(script, hash)
	if err != nil {
		return nil, fmt.Errorf("脚本编译失败: %v", err)
	}

	y.mu.Lock()
	y.cache[hash] = compiled
	y.mu.Unlock()
	return compiled.fn, nil
}

func (y *YaegiScriptExecutor) compile(script, hash string) (*CompiledScript, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("加载标准库失败: %w", err)
	}

	if _, err := i.Eval(wrapScript(script)); err != nil {
		return nil, err
	}
	v, err := i.Eval("Transform")
	if err != nil {
		return nil, fmt.Errorf("脚本缺少 Transform 函数: %w", err)
	}
	fn, ok := v.Interface().(func(float64) float64)
	if !ok {
		return nil, fmt.Errorf("Transform 函数签名必须是 func(float64) float64")
	}

	return &CompiledScript{
		fn:       fn,
		compiled: time.Now(),
		hash:     hash,
	}, nil
}

// Validate 只做语法和类型检查
func (y *YaegiScriptExecutor) Validate(script string) error {
	i := interp.New(interp.Options{})
	if err := i.Use(stdlib.Symbols); err != nil {
		return fmt.Errorf("加载标准库符号失败: %v", err)
	}
	_, err := i.Compile(wrapScript(script))
	return err
}

// CacheSize 已缓存的脚本数
func (y *YaegiScriptExecutor) CacheSize() int {
	y.mu.RLock()
	defer y.mu.RUnlock()
	return len(y.cache)
}

func wrapScript(script string) string {
	return fmt.Sprintf(`
package main

import "math"

var _ = math.Abs

func Transform(e float64) float64 {
%s
}
`, script)
}
