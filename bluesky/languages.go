package bluesky

import (
	"fmt"
	"scrollfeed/media"
	"strings"

	lingua "github.com/pemistahl/lingua-go"
	"github.com/samber/lo"
)

// LanguageDetector guesses the language of posts that declare none
type LanguageDetector struct {
	detector lingua.LanguageDetector
}

// Maps lingua languages to lower case ISO 639-1 codes
func supportedLanguages() map[lingua.Language]string {
	languages := make(map[lingua.Language]string)
	for _, lang := range lingua.AllLanguages() {
		languages[lang] = strings.ToLower(lang.IsoCode639_1().String())
	}
	return languages
}

func isoToLingua(codes []string) ([]lingua.Language, error) {
	byCode := lo.Invert(supportedLanguages())

	var languages []lingua.Language
	for _, code := range lo.Uniq(codes) {
		lang, ok := byCode[strings.ToLower(strings.TrimSpace(code))]
		if !ok {
			return nil, fmt.Errorf("unsupported language %q", code)
		}
		languages = append(languages, lang)
	}
	return languages, nil
}

// NewLanguageDetector chooses between the given ISO 639-1 languages. At
// least two are needed.
func NewLanguageDetector(codes []string) (*LanguageDetector, error) {
	languages, err := isoToLingua(codes)
	if err != nil {
		return nil, err
	}
	if len(languages) < 2 {
		return nil, fmt.Errorf("language detection needs at least two languages, got %d", len(languages))
	}

	detector := lingua.NewLanguageDetectorBuilder().
		FromLanguages(languages...).
		WithMinimumRelativeDistance(0.25).
		Build()
	return &LanguageDetector{detector: detector}, nil
}

// Detect returns the ISO 639-1 code of text, if one language stands out
func (d *LanguageDetector) Detect(text string) (string, bool) {
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	lang, ok := d.detector.DetectLanguageOf(text)
	if !ok {
		return "", false
	}
	return strings.ToLower(lang.IsoCode639_1().String()), true
}

// FillLanguages sets the detected language on payloads that declare none
func (d *LanguageDetector) FillLanguages(items []media.Item) {
	for _, item := range items {
		payload, ok := media.PayloadOf(item).(*Payload)
		if !ok || len(payload.Languages) > 0 {
			continue
		}
		if code, ok := d.Detect(payload.Text); ok {
			payload.Languages = []string{code}
			payload.DetectedLanguage = true
		}
	}
}
