package domain

import (
	"errors"
	"testing"
)

func TestSkillValidate(t *testing.T) {
	tests := []struct {
		name  string
		skill Skill
		ok    bool
	}{
		{"valid", Skill{Name: "LearnGerman", Level: LevelSpecific, Content: SkillContent{PromptTemplate: "Teach: {task}"}}, true},
		{"missing name", Skill{Level: LevelSpecific, Content: SkillContent{PromptTemplate: "x"}}, false},
		{"bad level", Skill{Name: "X", Level: "ultra", Content: SkillContent{PromptTemplate: "x"}}, false},
		{"missing template", Skill{Name: "X", Level: LevelDomain}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.skill.Validate()
			if tt.ok && err != nil {
				t.Errorf("Validate: %v", err)
			}
			if !tt.ok && !errors.Is(err, ErrInvalidInput) {
				t.Errorf("expected ErrInvalidInput, got %v", err)
			}
		})
	}
}

func TestDefaultMetaSkillAlwaysAvailable(t *testing.T) {
	s := DefaultMetaSkill()
	if s.Level != LevelMeta {
		t.Errorf("level = %s, want meta", s.Level)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("default meta skill must be valid: %v", err)
	}
	// Returned by value: mutations must not leak between callers.
	s.Stats.SuccessCount = 99
	if DefaultMetaSkill().Stats.SuccessCount != 0 {
		t.Error("DefaultMetaSkill leaked mutable state")
	}
}

func TestIsSystemPlugin(t *testing.T) {
	if !IsSystemPlugin("_skill_evolver_") {
		t.Error("_skill_evolver_ should be a system plugin")
	}
	if IsSystemPlugin("voyager") {
		t.Error("voyager should not be a system plugin")
	}
}
