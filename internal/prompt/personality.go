package prompt

// Personality levers translate to fixed prompt clauses. The vocabularies
// are closed; unknown values produce no clause, and "none" explicitly
// omits the optional levers.

var styleClauses = map[string]string{
	"professional": "Maintain a professional tone.",
	"casual":       "Keep the tone casual and relaxed.",
	"friendly":     "Be warm and friendly.",
	"direct":       "Be direct and to the point.",
}

var formalityClauses = map[string]string{
	"formal":   "Use formal language.",
	"neutral":  "Use everyday language, neither stiff nor slangy.",
	"informal": "Use informal, conversational language.",
}

var verbosityClauses = map[string]string{
	"concise":  "Answer briefly; prefer a few sentences over paragraphs.",
	"balanced": "Balance brevity with completeness.",
	"detailed": "Answer thoroughly, with detail and examples where useful.",
}

var empathyClauses = map[string]string{
	"low":    "Acknowledge feelings only when clearly relevant.",
	"medium": "Show understanding of the user's situation.",
	"high":   "Be especially attentive and empathetic to the user's feelings.",
}

var humorClauses = map[string]string{
	"low":    "Use humor sparingly.",
	"medium": "Light humor is welcome when it fits.",
	"high":   "Be playful; humor is encouraged.",
}

var creativityClauses = map[string]string{
	"low":    "Stick to conventional, well-established answers.",
	"medium": "Offer the occasional creative angle.",
	"high":   "Favor creative, unconventional suggestions.",
}

// personalityClauses returns the clauses for the given settings in a fixed
// order: style, formality, verbosity, then the optional empathy, humor,
// and creativity levers.
func personalityClauses(settings map[string]any) []string {
	if len(settings) == 0 {
		return nil
	}
	var out []string
	levers := []struct {
		key     string
		clauses map[string]string
	}{
		{"style", styleClauses},
		{"formality", formalityClauses},
		{"verbosity", verbosityClauses},
		{"empathy", empathyClauses},
		{"humor", humorClauses},
		{"creativity", creativityClauses},
	}
	for _, lever := range levers {
		val, ok := settings[lever.key].(string)
		if !ok || val == "none" {
			continue
		}
		if clause, ok := lever.clauses[val]; ok {
			out = append(out, clause)
		}
	}
	return out
}
