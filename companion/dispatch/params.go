package dispatch

import (
	"fmt"
	"strings"

	"github.com/BaSui01/aura/companion/command"
	"github.com/BaSui01/aura/companion/intervention"
	"github.com/BaSui01/aura/companion/tasks"
)

// 工具名。
const (
	ToolManageBurnout      = "manage_burnout"
	ToolShowPhotoAlbum     = "show_photo_album"
	ToolPlayMusic          = "play_music"
	ToolNotifyFamily       = "notify_family"
	ToolProvideOrientation = "provide_orientation"
	ToolStartCalmActivity  = "start_calm_activity"
)

// Params 工具参数的标签联合，每个已知工具一种实现。
type Params interface {
	Tool() string
}

// BurnoutParams manage_burnout 参数。
type BurnoutParams struct {
	TaskID     string
	Action     tasks.Action
	RawAction  string
	Recognized bool
}

func (BurnoutParams) Tool() string { return ToolManageBurnout }

// PhotoParams show_photo_album 参数。
type PhotoParams struct {
	FamilyMember string
}

func (PhotoParams) Tool() string { return ToolShowPhotoAlbum }

// MusicParams play_music 参数。
type MusicParams struct {
	Preference string
}

func (MusicParams) Tool() string { return ToolPlayMusic }

// AlertParams notify_family 参数。
type AlertParams struct {
	FamilyMember string
	Urgency      string
	Message      string
}

func (AlertParams) Tool() string { return ToolNotifyFamily }

// OrientationParams provide_orientation 参数。
type OrientationParams struct {
	Context string
}

func (OrientationParams) Tool() string { return ToolProvideOrientation }

// ActivityParams start_calm_activity 参数。
type ActivityParams struct {
	Activity string
}

func (ActivityParams) Tool() string { return ToolStartCalmActivity }

// Decode 按工具名把参数 map 转成类型化参数。未知工具返回 false。
func Decode(name string, params map[string]any) (Params, bool) {
	switch name {
	case ToolManageBurnout:
		action, raw, ok := command.ActionFromParams(params)
		return BurnoutParams{
			TaskID:     tasks.NormalizeID(first(params, "task_id", "taskId")),
			Action:     action,
			RawAction:  raw,
			Recognized: ok,
		}, true
	case ToolShowPhotoAlbum:
		return PhotoParams{FamilyMember: str(params, "familyMember", "family_member")}, true
	case ToolPlayMusic:
		return MusicParams{Preference: str(params, "preference")}, true
	case ToolNotifyFamily:
		urgency := str(params, "urgency")
		if urgency == "" {
			urgency = "low"
		}
		return AlertParams{
			FamilyMember: str(params, "familyMember", "family_member"),
			Urgency:      urgency,
			Message:      str(params, "message"),
		}, true
	case ToolProvideOrientation:
		ctx := str(params, "context")
		if ctx == "" {
			ctx = "time"
		}
		return OrientationParams{Context: ctx}, true
	case ToolStartCalmActivity:
		return ActivityParams{Activity: str(params, "activity", "type")}, true
	}
	return nil, false
}

// Intervention 把 elder 工具参数映射为干预类型和参数。
func Intervention(p Params) (intervention.Type, map[string]string, bool) {
	switch v := p.(type) {
	case PhotoParams:
		return intervention.TypePhotos, compact(map[string]string{"familyMember": v.FamilyMember}), true
	case MusicParams:
		return intervention.TypeMusic, compact(map[string]string{"preference": v.Preference}), true
	case AlertParams:
		return intervention.TypeFamilyAlert, compact(map[string]string{
			"familyMember": v.FamilyMember,
			"urgency":      v.Urgency,
			"message":      v.Message,
		}), true
	case OrientationParams:
		return intervention.TypeCalmGuidance, compact(map[string]string{"context": v.Context}), true
	case ActivityParams:
		return intervention.TypeCalmActivity, compact(map[string]string{"activity": v.Activity}), true
	}
	return "", nil, false
}

func first(params map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := params[k]; ok && v != nil {
			if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
				continue
			}
			return v
		}
	}
	return nil
}

func str(params map[string]any, keys ...string) string {
	v := first(params, keys...)
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.TrimSpace(s)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func compact(m map[string]string) map[string]string {
	for k, v := range m {
		if v == "" {
			delete(m, k)
		}
	}
	return m
}
