package config

import "slices"

// ConfigDiff describes what changed between two configs. Only fields that
// can be safely hot-reloaded are tracked; provider and store changes still
// require a restart.
type ConfigDiff struct {
	ScenariosChanged  bool
	ScenarioChanges   []ScenarioDiff
	VocabularyChanged bool
	LogLevelChanged   bool
	NewLogLevel       LogLevel
}

// ScenarioDiff describes what changed for a single scenario between two
// configs.
type ScenarioDiff struct {
	Name           string
	PersonaChanged bool
	VoiceChanged   bool
	Added          bool
	Removed        bool
}

// Diff compares old and new configs and returns what changed. Only tracks
// changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if !slices.Equal(old.Vocabulary, new.Vocabulary) {
		d.VocabularyChanged = true
	}

	oldScenarios := make(map[string]*ScenarioConfig, len(old.Scenarios))
	for i := range old.Scenarios {
		oldScenarios[old.Scenarios[i].Name] = &old.Scenarios[i]
	}
	newScenarios := make(map[string]*ScenarioConfig, len(new.Scenarios))
	for i := range new.Scenarios {
		newScenarios[new.Scenarios[i].Name] = &new.Scenarios[i]
	}

	for name, oldSc := range oldScenarios {
		newSc, exists := newScenarios[name]
		if !exists {
			d.ScenarioChanges = append(d.ScenarioChanges, ScenarioDiff{
				Name:    name,
				Removed: true,
			})
			d.ScenariosChanged = true
			continue
		}
		sd := diffScenario(name, oldSc, newSc)
		if sd.PersonaChanged || sd.VoiceChanged {
			d.ScenarioChanges = append(d.ScenarioChanges, sd)
			d.ScenariosChanged = true
		}
	}

	for name := range newScenarios {
		if _, exists := oldScenarios[name]; !exists {
			d.ScenarioChanges = append(d.ScenarioChanges, ScenarioDiff{
				Name:  name,
				Added: true,
			})
			d.ScenariosChanged = true
		}
	}

	return d
}

// diffScenario compares two scenario configs with the same name.
func diffScenario(name string, old, new *ScenarioConfig) ScenarioDiff {
	sd := ScenarioDiff{Name: name}
	if old.Persona != new.Persona {
		sd.PersonaChanged = true
	}
	if !voiceEqual(old.Voice, new.Voice) {
		sd.VoiceChanged = true
	}
	return sd
}

func voiceEqual(a, b *VoiceConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
