// Package instructions 渲染发送给语音 agent 的系统指令块，并在内容变化时同步。
package instructions

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/aura/companion/intervention"
	"github.com/BaSui01/aura/companion/profile"
	"github.com/BaSui01/aura/companion/tasks"
)

// AuraBase Aura 变体的基础指令。
const AuraBase = `You are Aura, an empathic productivity assistant.
CORE RULES:
1. You MUST use 'manage_burnout' for ANY status change. Never just talk about it, do it!
2. ACTION MAPPING:
   - User says "Finished", "Done", "Fixed", or "Checked off" -> Use 'complete'.
   - User says "Later", "Tomorrow", or "Can't do it now" -> Use 'postpone'.
3. MANDATORY: The tool 'manage_burnout' is your ONLY way to change tasks. Even if the user sounds happy, use it to mark things as 'complete'.
4. Celebrate! When a user finishes a task, call the tool first, then tell them how proud you are.
5. Refer to tasks by their IDs (e.g., "Task 1").`

// TaskContext 每个任务渲染为一行。
func TaskContext(list []tasks.Task) string {
	lines := make([]string, len(list))
	for i, t := range list {
		lines[i] = fmt.Sprintf("- [%s] %s (%s priority, status: %s, due: %s)",
			t.ID, t.Title, t.Priority, t.Status, t.Day)
	}
	return strings.Join(lines, "\n")
}

// BuildAura 基础指令加当前任务列表。
func BuildAura(list []tasks.Task) string {
	return AuraBase + "\n\nCURRENT TASKS:\n" + TaskContext(list)
}

// BuildElder 陪伴人设：家人、喜欢的歌曲和当前干预。
func BuildElder(p profile.Profile, current intervention.Intervention) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are a warm, patient companion for %s.\n", p.Name)
	b.WriteString("Speak slowly and simply. Never correct harshly; gently reorient instead.\n")
	b.WriteString("TOOLS:\n")
	b.WriteString("- show_photo_album when they miss someone or feel lonely.\n")
	b.WriteString("- play_music when they are sad or restless.\n")
	b.WriteString("- notify_family when they ask for family or seem distressed.\n")
	b.WriteString("- provide_orientation when they are confused about time or place.\n")
	b.WriteString("- start_calm_activity when they are anxious.\n")

	if len(p.FamilyMembers) > 0 {
		b.WriteString("\nFAMILY:\n")
		for _, m := range p.FamilyMembers {
			fmt.Fprintf(&b, "- %s (%s)\n", m.Name, m.Relation)
		}
	}
	if len(p.FavoriteSongs) > 0 {
		b.WriteString("\nFAVORITE SONGS:\n")
		for _, s := range p.FavoriteSongs {
			fmt.Fprintf(&b, "- %s by %s\n", s.Title, s.Artist)
		}
	}

	b.WriteString("\nCURRENT INTERVENTION: ")
	if current.Active() {
		b.WriteString(string(current.Type))
		if len(current.Params) > 0 {
			keys := sortedKeys(current.Params)
			parts := make([]string, len(keys))
			for i, k := range keys {
				parts[i] = k + "=" + current.Params[k]
			}
			b.WriteString(" (" + strings.Join(parts, ", ") + ")")
		}
	} else {
		b.WriteString("none")
	}
	return b.String()
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
