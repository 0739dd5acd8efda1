package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
)

const DefaultPoetModel = "gpt-4o-mini"

const (
	// CommonGround names a place when the model answered with nothing.
	CommonGround = "Common Ground"
	// SomewhereTogether names a place when the model could not be asked.
	SomewhereTogether = "Somewhere Together"
)

// QuietHum is the vibe reported when the model is unavailable.
var QuietHum = Vibe{
	Message:         "A quiet hum of digital existence fills the space.",
	SuggestedAction: "Watch the shadows dance.",
	EnergyLevel:     10,
}

var (
	ErrPoetDisabled  = errors.New("poet has no api key")
	ErrNoCompletion  = errors.New("model returned no choices")
	ErrMalformedVibe = errors.New("model returned a malformed vibe")
)

type Vibe struct {
	Message         string  `json:"message"`
	SuggestedAction string  `json:"suggestedAction"`
	EnergyLevel     float64 `json:"energyLevel"`
}

// Poet asks an OpenAI compatible chat model for short evocative text.
// A Poet built without an API key answers every call with ErrPoetDisabled.
type Poet struct {
	client *openai.Client
	model  string
}

func NewPoet(apiKey, baseURL, model string, httpClient *http.Client) *Poet {
	if model == "" {
		model = DefaultPoetModel
	}
	if apiKey == "" {
		return &Poet{model: model}
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	client := openai.NewClient(opts...)
	return &Poet{client: &client, model: model}
}

func (p *Poet) Enabled() bool {
	return p.client != nil
}

// vibeFormat constrains RoomVibe replies to a JSON object with every field
// present.
var vibeFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
	OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
		JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
			Name:        "room_vibe",
			Description: openai.String("The mood of a shared digital lounge."),
			Strict:      openai.Bool(true),
			Schema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"message": map[string]any{
						"type":        "string",
						"description": "A poetic one sentence description of the current room vibe.",
					},
					"suggestedAction": map[string]any{
						"type":        "string",
						"description": "A small interaction for the user to try.",
					},
					"energyLevel": map[string]any{
						"type":        "number",
						"description": "A value between 0 and 100 representing the vibe intensity.",
					},
				},
				"required":             []string{"message", "suggestedAction", "energyLevel"},
				"additionalProperties": false,
			},
		},
	},
}

// complete asks the model for one reply. A nil format leaves the reply as
// free text.
func (p *Poet) complete(ctx context.Context, system, prompt string, format *openai.ChatCompletionNewParamsResponseFormatUnion) (string, error) {
	if p.client == nil {
		return "", ErrPoetDisabled
	}
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(p.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(system),
			openai.UserMessage(prompt),
		},
	}
	if format != nil {
		params.ResponseFormat = *format
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrNoCompletion
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// PoeticLocation returns a poetic identifier of at most five words for the
// coordinates, or CommonGround when the model replied with nothing usable.
func (p *Poet) PoeticLocation(ctx context.Context, lat, lng float64) (string, error) {
	prompt := fmt.Sprintf(
		"Identify the city and country for latitude %g and longitude %g. "+
			"Then provide a concise poetic identifier for this place (maximum 5 words), "+
			"for example 'Emerald Seattle' or 'Golden Kyoto'. Return only the identifier text.",
		lat, lng)
	text, err := p.complete(ctx, "You name places in a handful of evocative words.", prompt, nil)
	if err != nil {
		return "", err
	}
	name := clampWords(strings.Trim(text, "\"'` \n"), 5)
	if name == "" {
		return CommonGround, nil
	}
	return name, nil
}

// RoomVibe describes the mood of a lounge holding count people.
func (p *Poet) RoomVibe(ctx context.Context, count int) (Vibe, error) {
	prompt := fmt.Sprintf(
		"Current room status: %d users present in a frosted glass digital lounge. "+
			"Provide a poetic one sentence analysis of the mood and one suggested action.",
		count)
	text, err := p.complete(ctx, "You read the mood of shared online spaces.", prompt, &vibeFormat)
	if err != nil {
		return Vibe{}, err
	}
	return parseVibe(text)
}

// parseVibe decodes a reply shaped by vibeFormat. Providers that ignore the
// schema are caught by the required field checks.
func parseVibe(text string) (Vibe, error) {
	var reply struct {
		Message         *string  `json:"message"`
		SuggestedAction *string  `json:"suggestedAction"`
		EnergyLevel     *float64 `json:"energyLevel"`
	}
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return Vibe{}, fmt.Errorf("%w: %w", ErrMalformedVibe, err)
	}
	if reply.Message == nil || *reply.Message == "" || reply.SuggestedAction == nil || reply.EnergyLevel == nil {
		return Vibe{}, fmt.Errorf("%w: missing required field", ErrMalformedVibe)
	}
	return Vibe{
		Message:         *reply.Message,
		SuggestedAction: *reply.SuggestedAction,
		EnergyLevel:     min(max(*reply.EnergyLevel, 0), 100),
	}, nil
}

func clampWords(s string, n int) string {
	words := strings.Fields(s)
	if len(words) > n {
		words = words[:n]
	}
	return strings.Join(words, " ")
}
