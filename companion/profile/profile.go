// Package profile 描述 elderlink 变体中被陪伴者的档案：家人和喜欢的歌曲。
package profile

import "strings"

// FamilyMember 家庭成员。
type FamilyMember struct {
	Name     string `json:"name" yaml:"name"`
	Relation string `json:"relation" yaml:"relation"`
	Photo    string `json:"photo" yaml:"photo"`
}

// Song 歌曲。
type Song struct {
	Title  string `json:"title" yaml:"title"`
	Artist string `json:"artist" yaml:"artist"`
	URL    string `json:"url" yaml:"url"`
}

// Profile 用户档案。
type Profile struct {
	Name          string         `json:"name" yaml:"name"`
	FamilyMembers []FamilyMember `json:"family_members" yaml:"family_members"`
	FavoriteSongs []Song         `json:"favorite_songs" yaml:"favorite_songs"`
}

// Default 返回演示档案。
func Default() Profile {
	return Profile{
		Name: "Mary",
		FamilyMembers: []FamilyMember{
			{Name: "Sarah", Relation: "Daughter", Photo: "/demo/sarah.jpg"},
			{Name: "Michael", Relation: "Son", Photo: "/demo/michael.jpg"},
			{Name: "Emma", Relation: "Granddaughter", Photo: "/demo/emma.jpg"},
			{Name: "Jack", Relation: "Grandson", Photo: "/demo/jack.jpg"},
		},
		FavoriteSongs: []Song{
			{Title: "Fly Me to the Moon", Artist: "Frank Sinatra", URL: "/demo/song1.mp3"},
			{Title: "What a Wonderful World", Artist: "Louis Armstrong", URL: "/demo/song2.mp3"},
			{Title: "Unforgettable", Artist: "Nat King Cole", URL: "/demo/song3.mp3"},
		},
	}
}

// FindMember 按名字（忽略大小写）查找家人。
func (p Profile) FindMember(name string) (FamilyMember, bool) {
	name = strings.TrimSpace(name)
	for _, m := range p.FamilyMembers {
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
	}
	return FamilyMember{}, false
}

// MemberNames 家人名字列表。
func (p Profile) MemberNames() []string {
	names := make([]string, len(p.FamilyMembers))
	for i, m := range p.FamilyMembers {
		names[i] = m.Name
	}
	return names
}

// Clone 深拷贝。
func (p Profile) Clone() Profile {
	out := Profile{Name: p.Name}
	out.FamilyMembers = append([]FamilyMember(nil), p.FamilyMembers...)
	out.FavoriteSongs = append([]Song(nil), p.FavoriteSongs...)
	return out
}
