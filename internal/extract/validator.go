// Package extract builds LLM prompts from accumulated history, calls the
// extraction model, and repairs the result into a trustworthy ChapterFact.
package extract

import (
	"sort"
	"strings"

	"novelpipe/internal/domain"
)

// ValidateFact is a pure function ChapterFact -> ChapterFact. It never
// calls the LLM; every repair here is cheap, deterministic, and safe to
// run twice (idempotent, per the testable property).
func ValidateFact(fact domain.ChapterFact) domain.ChapterFact {
	fact.Characters = validateCharacters(fact.Characters)
	knownNames := characterNameSet(fact.Characters)

	fact.Relationships = validateRelationships(fact.Relationships, knownNames)
	fact.Locations = validateLocations(fact.Locations, knownNames)
	fact.ItemEvents = validateItemEvents(fact.ItemEvents)
	fact.OrgEvents = validateOrgEvents(fact.OrgEvents)
	fact.Events = validateEvents(fact.Events)
	fact.NewConcepts = validateConcepts(fact.NewConcepts)

	fact.Characters = removeLocationsFromCharacters(fact.Characters, fact.Locations)
	knownNames = characterNameSet(fact.Characters)

	fact.Events = fillEventParticipantsAndLocations(fact.Events, fact.Characters, fact.Locations)
	fact.Characters = appendMissingParticipants(fact.Characters, fact.Events, fact.Relationships, knownNames)

	return fact
}

func clampName(name string) string {
	name = strings.TrimSpace(name)
	r := []rune(name)
	if len(r) > domain.MaxNameLength {
		r = r[:domain.MaxNameLength]
	}
	return string(r)
}

// 1. Characters: trim/clamp names, drop empty, merge duplicates by name.
func validateCharacters(in []domain.Character) []domain.Character {
	order := make([]string, 0, len(in))
	merged := make(map[string]domain.Character)

	for _, c := range in {
		c.Name = clampName(c.Name)
		if c.Name == "" {
			continue
		}
		existing, ok := merged[c.Name]
		if !ok {
			merged[c.Name] = c
			order = append(order, c.Name)
			continue
		}
		existing.NewAliases = unionStrings(existing.NewAliases, c.NewAliases)
		existing.LocationsInChapter = unionStrings(existing.LocationsInChapter, c.LocationsInChapter)
		existing.AbilitiesGained = append(existing.AbilitiesGained, c.AbilitiesGained...)
		if existing.Appearance == "" {
			existing.Appearance = c.Appearance
		}
		merged[c.Name] = existing
	}

	out := make([]domain.Character, 0, len(order))
	for _, name := range order {
		out = append(out, merged[name])
	}
	return out
}

func unionStrings(a, b []string) []string {
	seen := make(map[string]bool, len(a))
	out := make([]string, 0, len(a)+len(b))
	for _, s := range a {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range b {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func characterNameSet(chars []domain.Character) map[string]bool {
	names := make(map[string]bool, len(chars)*2)
	for _, c := range chars {
		names[c.Name] = true
		for _, a := range c.NewAliases {
			names[a] = true
		}
	}
	return names
}

// 2. Relationships: drop any whose persons don't match a known character
// name or alias.
func validateRelationships(in []domain.Relationship, known map[string]bool) []domain.Relationship {
	out := make([]domain.Relationship, 0, len(in))
	for _, r := range in {
		if known[r.PersonA] && known[r.PersonB] {
			out = append(out, r)
		}
	}
	return out
}

// 3. Locations: dedup by name; drop hallucinated suffix-locations of the
// form <character>+{府邸,住所,居所,家中,宅邸,房间}, but only when the prefix
// is itself a known character name or alias -- "将军府邸"/"总督府邸" are real
// locations since "将军"/"总督" are titles, not characters.
func validateLocations(in []domain.Location, knownChars map[string]bool) []domain.Location {
	seen := make(map[string]bool, len(in))
	out := make([]domain.Location, 0, len(in))
	for _, loc := range in {
		name := strings.TrimSpace(loc.Name)
		if name == "" || seen[name] {
			continue
		}
		if isHallucinatedResidence(name, knownChars) {
			continue
		}
		seen[name] = true
		loc.Name = name
		out = append(out, loc)
	}
	return out
}

func isHallucinatedResidence(name string, knownChars map[string]bool) bool {
	for _, suffix := range domain.HallucinatedLocationSuffixes {
		if !strings.HasSuffix(name, suffix) || len([]rune(name)) <= len([]rune(suffix)) {
			continue
		}
		prefix := strings.TrimSuffix(name, suffix)
		if knownChars[prefix] {
			return true
		}
	}
	return false
}

// 4. Item events: default action to 出现 if not in the valid set; trim names.
func validateItemEvents(in []domain.ItemEvent) []domain.ItemEvent {
	out := make([]domain.ItemEvent, 0, len(in))
	for _, e := range in {
		e.ItemName = strings.TrimSpace(e.ItemName)
		if e.ItemName == "" {
			continue
		}
		if !domain.ValidItemActions[e.Action] {
			e.Action = domain.ItemAppear
		}
		out = append(out, e)
	}
	return out
}

// 5. Org events: default action to 加入 if not valid.
func validateOrgEvents(in []domain.OrgEvent) []domain.OrgEvent {
	out := make([]domain.OrgEvent, 0, len(in))
	for _, e := range in {
		e.OrgName = strings.TrimSpace(e.OrgName)
		if e.OrgName == "" {
			continue
		}
		if !domain.ValidOrgActions[e.Action] {
			e.Action = domain.OrgJoin
		}
		out = append(out, e)
	}
	return out
}

// 6. Events: drop empties; dedup by summary; normalize type/importance.
func validateEvents(in []domain.Event) []domain.Event {
	seen := make(map[string]bool, len(in))
	out := make([]domain.Event, 0, len(in))
	for _, e := range in {
		e.Summary = strings.TrimSpace(e.Summary)
		if e.Summary == "" || seen[e.Summary] {
			continue
		}
		seen[e.Summary] = true
		if !domain.ValidEventTypes[e.Type] {
			e.Type = domain.EventOther
		}
		if !domain.ValidImportance[e.Importance] {
			e.Importance = domain.ImportanceMedium
		}
		out = append(out, e)
	}
	return out
}

// 7. Concepts: clamp names.
func validateConcepts(in []domain.Concept) []domain.Concept {
	out := make([]domain.Concept, 0, len(in))
	for _, c := range in {
		c.Name = clampName(c.Name)
		if c.Name == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// 8a. Remove from characters any entry whose name is actually a location.
// Exact-name match only, per the Open Question decision in DESIGN.md.
func removeLocationsFromCharacters(chars []domain.Character, locs []domain.Location) []domain.Character {
	locNames := make(map[string]bool, len(locs))
	for _, l := range locs {
		locNames[l.Name] = true
	}
	out := make([]domain.Character, 0, len(chars))
	for _, c := range chars {
		if locNames[c.Name] {
			continue
		}
		out = append(out, c)
	}
	return out
}

// 8b. Fill empty event participants/location by scanning the summary
// against known character/location names, longest-match-first.
func fillEventParticipantsAndLocations(events []domain.Event, chars []domain.Character, locs []domain.Location) []domain.Event {
	names := make([]string, 0, len(chars))
	for _, c := range chars {
		names = append(names, c.Name)
	}
	sortByLengthDesc(names)

	locNames := make([]string, 0, len(locs))
	for _, l := range locs {
		locNames = append(locNames, l.Name)
	}
	sortByLengthDesc(locNames)

	out := make([]domain.Event, 0, len(events))
	for _, e := range events {
		if len(e.Participants) == 0 {
			var matched []string
			for _, name := range names {
				if strings.Contains(e.Summary, name) {
					matched = append(matched, name)
				}
			}
			e.Participants = matched
		}
		if e.Location == "" {
			for _, name := range locNames {
				if strings.Contains(e.Summary, name) {
					e.Location = name
					break
				}
			}
		}
		out = append(out, e)
	}
	return out
}

func sortByLengthDesc(names []string) {
	sort.Slice(names, func(i, j int) bool {
		return len([]rune(names[i])) > len([]rune(names[j]))
	})
}

// 8c. Ensure any participant or relationship person not already in
// characters is auto-appended.
func appendMissingParticipants(chars []domain.Character, events []domain.Event, rels []domain.Relationship, known map[string]bool) []domain.Character {
	out := append([]domain.Character(nil), chars...)
	add := func(name string) {
		if name == "" || known[name] {
			return
		}
		known[name] = true
		out = append(out, domain.Character{Name: name})
	}
	for _, e := range events {
		for _, p := range e.Participants {
			add(p)
		}
	}
	for _, r := range rels {
		add(r.PersonA)
		add(r.PersonB)
	}
	return out
}
