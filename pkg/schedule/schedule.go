// Package schedule 计算策略的下一次执行时间。
//
// 支持四类调度说明：相对时长（"30s"/"5m"/"1h"/"1d"）、五段 cron 表达式、
// 字面量 "once"、以及绝对时间戳（ISO 文本、unix 秒、unix 毫秒，按数量级区分）。
package schedule

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cast"
)

// Decision 调度计算结果：要么在 Delay 之后再执行一次，要么不再调度
type Decision struct {
	Delay      time.Duration
	Reschedule bool
}

const (
	// 绝对时间计算出的延迟下限，避免目标时间已过导致立即触发
	minAbsoluteDelay = time.Second
	// cron 无法计算下一次执行时间时的兜底间隔
	cronFallbackDelay = time.Minute

	unixSecondsFloor = 1e9  // 大于等于该值按 unix 秒处理
	unixMillisFloor  = 1e12 // 大于等于该值按 unix 毫秒处理
)

var (
	relativeRe  = regexp.MustCompile(`^(\d+)([smhd])$`)
	cronFieldRe = regexp.MustCompile(`^(\*|\*/\d+|\d+)$`)

	// 各 cron 字段的最小值，不支持的语法宽容地退化到最小值而不是报错
	cronFieldMinimums = [5]string{"0", "0", "1", "1", "0"}

	relativeUnits = map[string]time.Duration{
		"s": time.Second,
		"m": time.Minute,
		"h": time.Hour,
		"d": 24 * time.Hour,
	}
)

// Next 根据调度说明计算下一次执行。now 为当前时间，由调用方注入便于测试。
func Next(spec any, now time.Time) (Decision, error) {
	switch v := spec.(type) {
	case nil:
		return Decision{}, fmt.Errorf("schedule spec is empty")
	case string:
		return nextFromString(v, now)
	case map[string]any:
		return nextFromObject(v, now)
	default:
		if n, err := cast.ToFloat64E(spec); err == nil {
			return nextFromNumber(n, now), nil
		}
		return Decision{}, fmt.Errorf("unsupported schedule spec type %T", spec)
	}
}

func nextFromString(raw string, now time.Time) (Decision, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Decision{}, fmt.Errorf("schedule spec is empty")
	}

	if strings.EqualFold(s, "once") {
		return Decision{Reschedule: false}, nil
	}

	if m := relativeRe.FindStringSubmatch(s); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err != nil {
			return Decision{}, fmt.Errorf("invalid relative spec %q: %w", s, err)
		}
		return Decision{Delay: time.Duration(n) * relativeUnits[m[2]], Reschedule: true}, nil
	}

	if fields := strings.Fields(s); len(fields) == 5 {
		return nextFromCron(fields, now), nil
	}

	// ISO 文本时间戳
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
		if target, err := time.ParseInLocation(layout, s, now.Location()); err == nil {
			return absoluteDecision(target, now), nil
		}
	}

	// 纯数字字符串按数值规则处理
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return nextFromNumber(n, now), nil
	}

	return Decision{}, fmt.Errorf("unrecognized schedule spec %q", s)
}

// nextFromNumber 按数量级区分：>=1e12 毫秒时间戳，>=1e9 秒时间戳，其余为相对毫秒
func nextFromNumber(n float64, now time.Time) Decision {
	switch {
	case n >= unixMillisFloor:
		return absoluteDecision(time.UnixMilli(int64(n)), now)
	case n >= unixSecondsFloor:
		return absoluteDecision(time.Unix(int64(n), 0), now)
	default:
		return relativeDecision(n)
	}
}

// relativeDecision 相对毫秒延迟。负值收敛到最小延迟，避免立即触发形成热循环
func relativeDecision(ms float64) Decision {
	delay := time.Duration(ms) * time.Millisecond
	if delay < 0 {
		delay = minAbsoluteDelay
	}
	return Decision{Delay: delay, Reschedule: true}
}

// nextFromObject 对象形式通过 in / at 显式区分相对与绝对
func nextFromObject(obj map[string]any, now time.Time) (Decision, error) {
	if v, ok := obj["in"]; ok {
		ms, err := cast.ToFloat64E(v)
		if err != nil {
			return Decision{}, fmt.Errorf("schedule 'in' must be a millisecond count: %w", err)
		}
		return relativeDecision(ms), nil
	}
	if v, ok := obj["at"]; ok {
		switch at := v.(type) {
		case string:
			return nextFromString(at, now)
		default:
			n, err := cast.ToFloat64E(v)
			if err != nil {
				return Decision{}, fmt.Errorf("schedule 'at' must be a timestamp: %w", err)
			}
			if n < unixSecondsFloor {
				return Decision{}, fmt.Errorf("schedule 'at' value %v is not a timestamp", v)
			}
			return nextFromNumber(n, now), nil
		}
	}
	return Decision{}, fmt.Errorf("schedule object requires 'in' or 'at'")
}

// nextFromCron 五段表达式：minute hour day-of-month month day-of-week。
// 字段只承诺支持 * 、*/N 和整数字面量，其余语法退化为字段最小值。
func nextFromCron(fields []string, now time.Time) Decision {
	sanitized := make([]string, 5)
	for i, f := range fields {
		if cronFieldRe.MatchString(f) {
			sanitized[i] = f
		} else {
			sanitized[i] = cronFieldMinimums[i]
		}
	}

	sched, err := cron.ParseStandard(strings.Join(sanitized, " "))
	if err != nil {
		return Decision{Delay: cronFallbackDelay, Reschedule: true}
	}

	next := sched.Next(now)
	if next.IsZero() || !next.After(now) {
		return Decision{Delay: cronFallbackDelay, Reschedule: true}
	}
	return Decision{Delay: next.Sub(now), Reschedule: true}
}

func absoluteDecision(target, now time.Time) Decision {
	delay := target.Sub(now)
	if delay < minAbsoluteDelay {
		delay = minAbsoluteDelay
	}
	return Decision{Delay: delay, Reschedule: true}
}
