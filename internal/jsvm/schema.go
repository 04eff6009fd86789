package jsvm

import (
	"regexp"
	"strings"
)

// 参数类型标签
const (
	ParamTypeBool    = "bool"
	ParamTypeInt     = "int"
	ParamTypeBps     = "bps"     // 基点，钳制到 [0,5000]
	ParamTypeNumber  = "number"
	ParamTypeEth     = "eth"     // ETH 金额
	ParamTypePercent = "percent" // 百分比，钳制到 [0,100]
	ParamTypeEnum    = "enum"
	ParamTypeString  = "string"
)

// Param 策略源码中声明的一个参数
type Param struct {
	Key     string   `json:"key"`
	Type    string   `json:"type"`
	Default string   `json:"default"`
	Choices []string `json:"choices,omitempty"` // 仅 enum 类型有值
}

// 源码注解形如：
//
//	// @param interval string 5m
//	// @param amount eth 0.001
//	// @param mode enum conservative conservative|aggressive
var paramRe = regexp.MustCompile(`(?m)^\s*//\s*@param\s+(\w+)\s+(\w+)\s+(\S+)(?:\s+(\S+))?\s*$`)

// ExtractParams 从策略源码注解中提取参数声明；同名声明后者覆盖前者
func ExtractParams(source string) []Param {
	matches := paramRe.FindAllStringSubmatch(source, -1)
	if len(matches) == 0 {
		return nil
	}

	index := make(map[string]int, len(matches))
	params := make([]Param, 0, len(matches))
	for _, m := range matches {
		p := Param{
			Key:     m[1],
			Type:    strings.ToLower(m[2]),
			Default: m[3],
		}
		if m[4] != "" {
			p.Choices = strings.Split(m[4], "|")
		}
		if i, ok := index[p.Key]; ok {
			params[i] = p
			continue
		}
		index[p.Key] = len(params)
		params = append(params, p)
	}
	return params
}
