package speech

import "strings"

// preferredNames are voice names that sound natural for the assistant, in
// priority order.
var preferredNames = []string{
	"nova",
	"samantha",
	"karen",
	"moira",
	"tessa",
	"shimmer",
}

// PickVoice chooses a voice ID from the available set. Preference order:
// exact ID or name match with the requested voice, then a known natural
// voice, then any non-male English voice, then the first voice offered.
// Returns "" and false when the set is empty.
func PickVoice(voices []Voice, preferred string) (string, bool) {
	if len(voices) == 0 {
		return "", false
	}

	want := strings.ToLower(strings.TrimSpace(preferred))
	if want != "" {
		for _, v := range voices {
			if strings.ToLower(v.ID) == want || strings.Contains(strings.ToLower(v.Name), want) {
				return v.ID, true
			}
		}
	}

	for _, name := range preferredNames {
		for _, v := range voices {
			if strings.Contains(strings.ToLower(v.Name), name) || strings.ToLower(v.ID) == name {
				return v.ID, true
			}
		}
	}

	for _, v := range voices {
		if strings.HasPrefix(strings.ToLower(v.Language), "en") && v.Gender != "male" {
			return v.ID, true
		}
	}

	return voices[0].ID, true
}
