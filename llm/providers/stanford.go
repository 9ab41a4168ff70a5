package providers

import (
	"net/http"
	"os"
	"strings"

	"github.com/als-computing/otter/llm"
)

// StanfordProvider adapts the Stanford AI gateway, an OpenAI-compatible
// endpoint fronted by an API-management layer that authenticates with a
// subscription key instead of a bearer token.
type StanfordProvider struct {
	OllamaProvider // Embed for shared request/response format
}

func init() {
	llm.RegisterProvider(&StanfordProvider{})
}

// Name returns the provider identifier.
func (s *StanfordProvider) Name() string {
	return "stanford"
}

// BuildURL constructs the gateway chat completions endpoint.
func (s *StanfordProvider) BuildURL(baseURL string) string {
	if baseURL == "" {
		baseURL = "https://aiapi-prod.stanford.edu/v1"
	}
	baseURL = strings.TrimSuffix(baseURL, "/")

	if strings.HasSuffix(baseURL, "/chat/completions") {
		return baseURL
	}

	return baseURL + "/chat/completions"
}

// SetHeaders adds the gateway subscription key.
func (s *StanfordProvider) SetHeaders(req *http.Request) {
	if key := os.Getenv("STANFORD_API_KEY"); key != "" {
		req.Header.Set("Ocp-Apim-Subscription-Key", key)
	}
}
