package content

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

var (
	testIDPattern = regexp.MustCompile(`^test-[a-z0-9]+(?:-[a-z0-9]+)*$`)
	slugPattern   = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

func specErr(testID, path, msg string) error {
	return fmt.Errorf("invalid test spec %s: %s at %s", testID, msg, path)
}

func requireString(value, testID, path string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", specErr(testID, path, "must not be empty")
	}
	return trimmed, nil
}

func localeKeys(spec *TestSpec) ([]string, error) {
	if len(spec.Locales) == 0 {
		return nil, specErr(spec.TestID, "locales", "must include at least one locale")
	}
	keys := make([]string, 0, len(spec.Locales))
	for key := range spec.Locales {
		canonical := NormalizeLocale(key)
		if canonical == "" {
			return nil, specErr(spec.TestID, "locales."+key, "unsupported locale tag")
		}
		if canonical != key {
			return nil, specErr(spec.TestID, "locales."+key, "locale tag must be "+canonical)
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

func validateLocaleStrings(ls LocaleStrings, testID, path string) error {
	fields := map[string]string{
		"title":             ls.Title,
		"short_description": ls.ShortDescription,
		"intro":             ls.Intro,
		"paywall_headline":  ls.PaywallHeadline,
		"report_title":      ls.ReportTitle,
	}
	for name, value := range fields {
		if _, err := requireString(value, testID, path+"."+name); err != nil {
			return err
		}
	}
	return nil
}

func validateLocalizedMap(values map[string]string, locales []string, testID, path string) error {
	for _, locale := range locales {
		if _, err := requireString(values[locale], testID, path+"."+locale); err != nil {
			return err
		}
	}
	return nil
}

func validateQuestion(q TestQuestion, locales []string, testID, path string) error {
	if _, err := requireString(q.ID, testID, path+".id"); err != nil {
		return err
	}
	if q.Type != "single_choice" {
		return specErr(testID, path+".type", "only single_choice is supported")
	}
	if err := validateLocalizedMap(q.Prompt, locales, testID, path+".prompt"); err != nil {
		return err
	}
	if len(q.Options) == 0 {
		return specErr(testID, path+".options", "must not be empty")
	}
	for i, opt := range q.Options {
		optPath := fmt.Sprintf("%s.options[%d]", path, i)
		if _, err := requireString(opt.ID, testID, optPath+".id"); err != nil {
			return err
		}
		if err := validateLocalizedMap(opt.Label, locales, testID, optPath+".label"); err != nil {
			return err
		}
	}
	return nil
}

func validateScoring(s TestScoring, testID string) error {
	if len(s.Scales) == 0 {
		return specErr(testID, "scoring.scales", "must not be empty")
	}
	for i, scale := range s.Scales {
		if _, err := requireString(scale, testID, fmt.Sprintf("scoring.scales[%d]", i)); err != nil {
			return err
		}
	}
	for optionID := range s.OptionWeights {
		if strings.TrimSpace(optionID) == "" {
			return specErr(testID, "scoring.option_weights", "blank option id")
		}
	}
	return nil
}

func validateResultBand(b ResultBand, locales []string, testID, path string) error {
	if _, err := requireString(b.BandID, testID, path+".band_id"); err != nil {
		return err
	}
	for _, locale := range locales {
		copyPath := path + ".copy." + locale
		localeCopy, ok := b.Copy[locale]
		if !ok {
			return specErr(testID, copyPath, "missing required field")
		}
		if _, err := requireString(localeCopy.Headline, testID, copyPath+".headline"); err != nil {
			return err
		}
		if _, err := requireString(localeCopy.Summary, testID, copyPath+".summary"); err != nil {
			return err
		}
		for i, bullet := range localeCopy.Bullets {
			if _, err := requireString(bullet, testID, fmt.Sprintf("%s.bullets[%d]", copyPath, i)); err != nil {
				return err
			}
		}
	}
	return nil
}

// ValidateTestSpec checks a parsed spec against the directory it was loaded
// from. Specs are trusted content, but a typo in a weights table corrupts
// every score derived from it, so validation fails hard at load time.
func ValidateTestSpec(spec *TestSpec, sourceID string) error {
	testID, err := requireString(spec.TestID, sourceID, "test_id")
	if err != nil {
		return err
	}
	if !testIDPattern.MatchString(testID) {
		return specErr(testID, "test_id", "must match test-<slug>")
	}
	if testID != sourceID {
		return specErr(testID, "test_id", "must match directory "+sourceID)
	}

	slug, err := requireString(spec.Slug, testID, "slug")
	if err != nil {
		return err
	}
	if !slugPattern.MatchString(slug) {
		return specErr(testID, "slug", "must be url-safe")
	}
	if testID != "test-"+slug {
		return specErr(testID, "test_id", "must align with slug")
	}
	if spec.Version < 1 {
		return specErr(testID, "version", "must be >= 1")
	}
	if _, err := requireString(spec.Category, testID, "category"); err != nil {
		return err
	}

	locales, err := localeKeys(spec)
	if err != nil {
		return err
	}
	for _, locale := range locales {
		if err := validateLocaleStrings(spec.Locales[locale], testID, "locales."+locale); err != nil {
			return err
		}
	}

	if len(spec.Questions) == 0 {
		return specErr(testID, "questions", "must not be empty")
	}
	for i, q := range spec.Questions {
		if err := validateQuestion(q, locales, testID, fmt.Sprintf("questions[%d]", i)); err != nil {
			return err
		}
	}
	if err := validateScoring(spec.Scoring, testID); err != nil {
		return err
	}
	for i, band := range spec.ResultBands {
		if err := validateResultBand(band, locales, testID, fmt.Sprintf("result_bands[%d]", i)); err != nil {
			return err
		}
	}
	return nil
}
