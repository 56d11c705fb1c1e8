package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"metaslim/config"
	"metaslim/models"
)

// Extractor runs structured extraction against the Gemini API. The response
// schema forces the model into the exact study shape, so the reply can be
// unmarshaled directly.
type Extractor struct {
	Config *config.Config
	Logger *zap.Logger
	client *genai.Client
}

func NewExtractor(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Extractor, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.GeminiAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &Extractor{
		Config: cfg,
		Logger: logger,
		client: client,
	}, nil
}

func (e *Extractor) Name() string {
	return "gemini"
}

const extractionPrompt = `You are a clinical trial data extraction specialist for weight-loss drug research.
Analyze the provided publication and extract every reported study cohort.

Rules:
- Prefer Intention-To-Treat (ITT) results over per-protocol results when both are reported.
- Never extract placebo arms. Only active drug arms.
- If a trial stratifies its cohorts (for example with and without type 2 diabetes, or a Chinese sub-population), emit one separate study object per stratum.
- Phase must be exactly "Phase 1", "Phase 2", "Phase 3" or an empty string if not reported.
- If a numeric value is not reported, use 0. If a text value is not reported, use an empty string.
- durationWeeks is the treatment duration in whole weeks.
- Adverse event percentages refer to the share of participants affected in that dose arm.`

var doseSchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"dose":                {Type: genai.TypeString},
		"weightLossPercent":   {Type: genai.TypeNumber},
		"nauseaPercent":       {Type: genai.TypeNumber},
		"vomitingPercent":     {Type: genai.TypeNumber},
		"diarrheaPercent":     {Type: genai.TypeNumber},
		"constipationPercent": {Type: genai.TypeNumber},
	},
	Required: []string{"dose", "weightLossPercent", "nauseaPercent", "vomitingPercent", "diarrheaPercent", "constipationPercent"},
}

var studySchema = &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"studies": {
			Type: genai.TypeArray,
			Items: &genai.Schema{
				Type: genai.TypeObject,
				Properties: map[string]*genai.Schema{
					"drugName":        {Type: genai.TypeString},
					"drugClass":       {Type: genai.TypeString},
					"company":         {Type: genai.TypeString},
					"trialName":       {Type: genai.TypeString},
					"phase":           {Type: genai.TypeString},
					"hasT2D":          {Type: genai.TypeBoolean},
					"isChineseCohort": {Type: genai.TypeBoolean},
					"durationWeeks":   {Type: genai.TypeInteger},
					"summary":         {Type: genai.TypeString},
					"doses": {
						Type:  genai.TypeArray,
						Items: doseSchema,
					},
				},
				Required: []string{"drugName", "trialName", "phase", "doses"},
			},
		},
	},
	Required: []string{"studies"},
}

func (e *Extractor) generationConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.1),
		ResponseMIMEType: "application/json",
		ResponseSchema:   studySchema,
	}
}

func (e *Extractor) ExtractText(ctx context.Context, text string) ([]models.CandidateStudy, error) {
	if len(text) > e.Config.MaxPromptChars {
		text = text[:e.Config.MaxPromptChars]
	}
	contents := []*genai.Content{
		genai.NewContentFromText(extractionPrompt+"\n\nPublication text:\n"+text, genai.RoleUser),
	}
	return e.generate(ctx, contents)
}

func (e *Extractor) ExtractFile(ctx context.Context, data []byte, mimeType string) ([]models.CandidateStudy, error) {
	content := genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromText(extractionPrompt),
		genai.NewPartFromBytes(data, mimeType),
	}, genai.RoleUser)
	return e.generate(ctx, []*genai.Content{content})
}

func (e *Extractor) generate(ctx context.Context, contents []*genai.Content) ([]models.CandidateStudy, error) {
	resp, err := e.client.Models.GenerateContent(ctx, e.Config.GeminiModel, contents, e.generationConfig())
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}

	raw := resp.Text()
	if strings.TrimSpace(raw) == "" {
		return nil, fmt.Errorf("gemini returned an empty response")
	}

	var payload struct {
		Studies []models.CandidateStudy `json:"studies"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		e.Logger.Error("unparseable gemini response",
			zap.String("model", e.Config.GeminiModel),
			zap.Int("length", len(raw)))
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}

	e.Logger.Info("gemini extraction complete",
		zap.String("model", e.Config.GeminiModel),
		zap.Int("candidates", len(payload.Studies)))
	return payload.Studies, nil
}
