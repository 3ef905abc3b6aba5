package provider

// DefaultChoice is used when a job names no model or an unrecognized one.
const DefaultChoice = "flux"

// chains maps a user-facing model choice to the ordered list of provider
// model ids tried on successive attempts. The first entry is the requested
// model; later entries are the fallbacks.
var chains = map[string][]string{
	"flux":  {"flux-2-pro", "flux-schnell", "sdxl-turbo"},
	"sdxl":  {"sdxl-1.0", "sdxl-turbo", "flux-schnell"},
	"turbo": {"sdxl-turbo", "flux-schnell", "sdxl-1.0"},
}

// NormalizeChoice collapses unknown model choices onto the default.
func NormalizeChoice(choice string) string {
	if _, ok := chains[choice]; ok {
		return choice
	}
	return DefaultChoice
}

// FallbackChain returns a copy of the model chain for the given choice.
func FallbackChain(choice string) []string {
	chain := chains[NormalizeChoice(choice)]
	out := make([]string, len(chain))
	copy(out, chain)
	return out
}
