package llm

import "strings"

type Family string

const (
	FamilyGemini   Family = "gemini"
	FamilyOpenAI   Family = "openai"
	FamilyDeepSeek Family = "deepseek"
)

type familySpec struct {
	family     Family
	prefixes   []string
	apiKeyEnv  string
	baseURLEnv string
}

var families = []familySpec{
	{family: FamilyGemini, prefixes: []string{"gemini-"}, apiKeyEnv: "GEMINI_API_KEY", baseURLEnv: "GEMINI_BASE_URL"},
	{family: FamilyOpenAI, prefixes: []string{"gpt-", "chatgpt-", "o1", "o3", "o4"}, apiKeyEnv: "OPENAI_API_KEY", baseURLEnv: "OPENAI_BASE_URL"},
	{family: FamilyDeepSeek, prefixes: []string{"deepseek-"}, apiKeyEnv: "DEEPSEEK_API_KEY", baseURLEnv: "DEEPSEEK_BASE_URL"},
}

// Credentials are the per-family settings needed to call a provider.
type Credentials struct {
	APIKey  string
	BaseURL string
}

// Binding is a model identifier resolved to the provider that serves it.
type Binding struct {
	Family  Family
	ModelID string
	Credentials
}

// Resolver maps model identifiers onto provider families using settings
// resolved once at startup.
type Resolver struct {
	credentials map[Family]Credentials
}

func NewResolver(credentials map[Family]Credentials) *Resolver {
	c := make(map[Family]Credentials, len(credentials))
	for f, cred := range credentials {
		c[f] = cred
	}
	return &Resolver{credentials: c}
}

// FamilyOf returns the family whose prefix matches modelID.
func FamilyOf(modelID string) (Family, bool) {
	spec, ok := lookupFamily(modelID)
	return spec.family, ok
}

func lookupFamily(modelID string) (familySpec, bool) {
	id := strings.ToLower(strings.TrimSpace(modelID))
	for _, spec := range families {
		for _, prefix := range spec.prefixes {
			if strings.HasPrefix(id, prefix) {
				return spec, true
			}
		}
	}
	return familySpec{}, false
}

func (r *Resolver) Resolve(modelID string) (Binding, error) {
	spec, ok := lookupFamily(modelID)
	if !ok {
		return Binding{}, &UnknownModelError{ModelID: modelID}
	}
	cred := r.credentials[spec.family]
	if cred.APIKey == "" {
		return Binding{}, &ConfigurationError{Family: spec.family, Key: spec.apiKeyEnv}
	}
	if cred.BaseURL == "" {
		return Binding{}, &ConfigurationError{Family: spec.family, Key: spec.baseURLEnv}
	}
	return Binding{Family: spec.family, ModelID: strings.TrimSpace(modelID), Credentials: cred}, nil
}
