package extract

import (
	"testing"

	"novelpipe/internal/domain"

	"github.com/stretchr/testify/require"
)

func TestValidateFactScenarioFAutoFillsParticipants(t *testing.T) {
	fact := domain.ChapterFact{
		Characters: []domain.Character{{Name: "韩立"}, {Name: "墨大夫"}},
		Events: []domain.Event{
			{Summary: "韩立击退墨大夫", Type: domain.EventCombat, Importance: domain.ImportanceHigh},
		},
	}
	got := ValidateFact(fact)
	require.Equal(t, []string{"墨大夫", "韩立"}, got.Events[0].Participants)
}

func TestValidateFactIsIdempotent(t *testing.T) {
	fact := domain.ChapterFact{
		Characters: []domain.Character{{Name: "韩立"}, {Name: " 韩立 "}, {Name: "墨大夫"}},
		Relationships: []domain.Relationship{
			{PersonA: "韩立", PersonB: "墨大夫", RelationType: "敌对"},
			{PersonA: "韩立", PersonB: "不存在的人", RelationType: "敌对"},
		},
		Locations: []domain.Location{{Name: "落霞峰"}, {Name: "韩立府邸"}},
		Events: []domain.Event{
			{Summary: "韩立击退墨大夫"},
		},
	}
	once := ValidateFact(fact)
	twice := ValidateFact(once)
	require.Equal(t, once, twice)
}

func TestValidateFactDropsHallucinatedResidence(t *testing.T) {
	fact := domain.ChapterFact{
		Characters: []domain.Character{{Name: "韩立"}},
		Locations:  []domain.Location{{Name: "韩立府邸"}, {Name: "落霞峰"}},
	}
	got := ValidateFact(fact)
	require.Len(t, got.Locations, 1)
	require.Equal(t, "落霞峰", got.Locations[0].Name)
}

func TestValidateFactKeepsResidenceWhosePrefixIsNotACharacter(t *testing.T) {
	fact := domain.ChapterFact{
		Characters: []domain.Character{{Name: "韩立"}},
		Locations:  []domain.Location{{Name: "将军府邸"}, {Name: "落霞峰"}},
	}
	got := ValidateFact(fact)
	names := make([]string, 0, len(got.Locations))
	for _, l := range got.Locations {
		names = append(names, l.Name)
	}
	require.Contains(t, names, "将军府邸")
	require.Contains(t, names, "落霞峰")
}

func TestValidateFactDropsRelationshipsWithUnknownPersons(t *testing.T) {
	fact := domain.ChapterFact{
		Characters: []domain.Character{{Name: "韩立"}},
		Relationships: []domain.Relationship{
			{PersonA: "韩立", PersonB: "陌生人"},
		},
	}
	got := ValidateFact(fact)
	require.Empty(t, got.Relationships)
}

func TestValidateFactParticipantsAppearInCharacters(t *testing.T) {
	fact := domain.ChapterFact{
		Events: []domain.Event{
			{Summary: "x", Participants: []string{"新角色"}},
		},
	}
	got := ValidateFact(fact)
	names := make(map[string]bool)
	for _, c := range got.Characters {
		names[c.Name] = true
	}
	require.True(t, names["新角色"])
}

func TestValidateFactDefaultsInvalidItemAction(t *testing.T) {
	fact := domain.ChapterFact{
		ItemEvents: []domain.ItemEvent{{ItemName: "青竹蜂云剑", Action: "不存在的动作"}},
	}
	got := ValidateFact(fact)
	require.Equal(t, domain.ItemAppear, got.ItemEvents[0].Action)
}
