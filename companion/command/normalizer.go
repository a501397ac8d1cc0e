// Package command 把 agent 给出的自由文本动作词归一化为任务动作。
package command

import (
	"fmt"
	"strings"

	"github.com/BaSui01/aura/companion/tasks"
)

var synonyms = map[string]tasks.Action{
	"complete":  tasks.ActionComplete,
	"completed": tasks.ActionComplete,
	"finished":  tasks.ActionComplete,
	"finish":    tasks.ActionComplete,
	"done":      tasks.ActionComplete,

	"postpone":  tasks.ActionPostpone,
	"postponed": tasks.ActionPostpone,
	"later":     tasks.ActionPostpone,
	"move":      tasks.ActionPostpone,

	"cancel":    tasks.ActionCancel,
	"cancelled": tasks.ActionCancel,
	"canceled":  tasks.ActionCancel,
	"drop":      tasks.ActionCancel,
	"remove":    tasks.ActionCancel,

	"delegate":  tasks.ActionDelegate,
	"delegated": tasks.ActionDelegate,
}

// ParamKeys 动作参数的别名，按优先级排列。
var ParamKeys = []string{"adjustment_type", "adjustmentType", "new_status", "status"}

// Normalize 返回 raw 对应的动作。不认识的词回落到 postpone，recognized=false。
func Normalize(raw string) (action tasks.Action, recognized bool) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if a, ok := synonyms[key]; ok {
		return a, true
	}
	return tasks.ActionPostpone, false
}

// ActionFromParams 按 ParamKeys 顺序取第一个非空值再归一化。
// 没有任何动作参数时返回 postpone，recognized=true。
func ActionFromParams(params map[string]any) (action tasks.Action, raw string, recognized bool) {
	for _, k := range ParamKeys {
		v, ok := params[k]
		if !ok || v == nil {
			continue
		}
		s := strings.TrimSpace(stringify(v))
		if s == "" {
			continue
		}
		a, ok := Normalize(s)
		return a, s, ok
	}
	return tasks.ActionPostpone, "", true
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
