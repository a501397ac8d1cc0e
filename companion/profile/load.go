package profile

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Load 从 YAML 文件读取档案。名字为空或家人缺少名字时报错。
func Load(path string) (Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Profile{}, fmt.Errorf("read profile: %w", err)
	}

	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return Profile{}, fmt.Errorf("parse profile %s: %w", path, err)
	}

	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return Profile{}, fmt.Errorf("profile %s: name is required", path)
	}
	for i, m := range p.FamilyMembers {
		if strings.TrimSpace(m.Name) == "" {
			return Profile{}, fmt.Errorf("profile %s: family member %d has no name", path, i)
		}
	}
	return p, nil
}
