package engine

import (
	"strings"
)

// Long-term fact categories.
const (
	CategoryPreference   = "preference"
	CategoryPersonalInfo = "personal_info"
	CategoryWork         = "work"
	CategoryInterest     = "interest"
	CategoryGoal         = "goal"
	CategoryRelationship = "relationship"
	CategoryOther        = "other"
)

// Categories lists the categories in heuristic tie-break order.
var Categories = []string{
	CategoryPreference,
	CategoryPersonalInfo,
	CategoryWork,
	CategoryInterest,
	CategoryGoal,
	CategoryRelationship,
	CategoryOther,
}

// categoryAliases maps labels a model may emit to canonical categories.
var categoryAliases = map[string]string{
	"preference": CategoryPreference, "preferences": CategoryPreference, "pref": CategoryPreference,
	"用户偏好": CategoryPreference, "偏好": CategoryPreference, "喜好": CategoryPreference,

	"personal_info": CategoryPersonalInfo, "personal info": CategoryPersonalInfo, "personal": CategoryPersonalInfo,
	"personal-info": CategoryPersonalInfo, "identity": CategoryPersonalInfo, "profile": CategoryPersonalInfo,
	"个人信息": CategoryPersonalInfo, "个人资料": CategoryPersonalInfo,

	"work": CategoryWork, "job": CategoryWork, "career": CategoryWork, "occupation": CategoryWork,
	"工作": CategoryWork, "职业": CategoryWork,

	"interest": CategoryInterest, "interests": CategoryInterest, "hobby": CategoryInterest, "hobbies": CategoryInterest,
	"兴趣": CategoryInterest, "兴趣爱好": CategoryInterest, "爱好": CategoryInterest,

	"goal": CategoryGoal, "goals": CategoryGoal, "plan": CategoryGoal, "plans": CategoryGoal,
	"目标": CategoryGoal, "计划": CategoryGoal,

	"relationship": CategoryRelationship, "relationships": CategoryRelationship, "family": CategoryRelationship,
	"关系": CategoryRelationship, "人际关系": CategoryRelationship, "家庭": CategoryRelationship,

	"other": CategoryOther, "misc": CategoryOther, "fact": CategoryOther, "其他": CategoryOther,
}

// categoryKeywords drive heuristic classification of unlabeled lines.
var categoryKeywords = map[string][]string{
	CategoryPreference: {
		"prefer", "prefers", "preferred", "like", "likes", "love", "loves", "hate", "hates",
		"dislike", "dislikes", "favorite", "favourite", "喜欢", "偏好", "讨厌",
	},
	CategoryPersonalInfo: {
		"name", "named", "age", "born", "birthday", "live", "lives", "living", "hometown",
		"名字", "叫", "住在", "岁", "生日",
	},
	CategoryWork: {
		"work", "works", "working", "job", "company", "employer", "engineer", "developer",
		"manager", "career", "office", "finance", "工作", "公司", "职业",
	},
	CategoryInterest: {
		"hobby", "hobbies", "interested", "interest", "enjoy", "enjoys", "plays", "playing",
		"reading", "music", "travel", "爱好", "兴趣",
	},
	CategoryGoal: {
		"goal", "goals", "plan", "plans", "planning", "aim", "aims", "learn", "learning",
		"want to", "wants to", "目标", "计划", "想要",
	},
	CategoryRelationship: {
		"wife", "husband", "partner", "friend", "friends", "mother", "father", "mom", "dad",
		"sister", "brother", "son", "daughter", "kids", "children", "家人", "朋友", "妻子", "丈夫",
	},
}

// ResolveCategory maps a label to a canonical category. ok is false for unknown labels.
func ResolveCategory(label string) (string, bool) {
	label = strings.ToLower(strings.TrimSpace(label))
	label = strings.Trim(label, "*_[]()`\"'")
	c, ok := categoryAliases[label]
	return c, ok
}

// classify picks the category with the most keyword hits. ok is false when nothing matched.
func classify(text string) (string, bool) {
	lower := strings.ToLower(text)
	tokens := make(map[string]bool)
	for _, t := range tokenize(lower) {
		tokens[t] = true
	}

	best, bestHits := "", 0
	for _, cat := range Categories {
		hits := 0
		for _, kw := range categoryKeywords[cat] {
			if strings.Contains(kw, " ") || !isASCII(kw) {
				if strings.Contains(lower, kw) {
					hits++
				}
				continue
			}
			if tokens[kw] {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = cat, hits
		}
	}
	return best, bestHits > 0
}

// importanceFor derives an initial importance from a category.
func importanceFor(category string) float64 {
	switch category {
	case CategoryPersonalInfo:
		return 0.7
	case CategoryPreference, CategoryWork:
		return 0.6
	}
	return 0.5
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}
