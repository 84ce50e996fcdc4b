/**
 * Strategy Matrix Builder
 *
 * Pairs preprocessed variants with language groups and engine profiles.
 * The matrix is redundant on purpose: no single pairing reads every image
 * well, so several are tried and the scorer picks the winner.
 */

package processor

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/adverant/nexus/ocr-worker/internal/preprocess"
)

// Profile names
const (
	ProfileUniversal  = "universal"
	ProfileDocument   = "document"
	ProfileSingleLine = "single_line"
	ProfileSingleWord = "single_word"
	ProfileBlurry     = "blurry"
	ProfileAmharic    = "amharic"
	ProfileArabic     = "arabic"
	ProfileChinese    = "chinese"
)

// Page segmentation modes understood by the engine.
const (
	PSMAuto        = 3
	PSMSingleBlock = 6
	PSMSingleLine  = 7
	PSMSingleWord  = 8
)

// ConfigProfile is a named engine parameter set.
type ConfigProfile struct {
	Name        string
	PageSegMode int
	Variables   map[string]string
}

// ProfileRegistry maps profile names to profiles. Treat as read-only.
type ProfileRegistry map[string]ConfigProfile

var defaultProfiles = ProfileRegistry{
	ProfileUniversal: {
		Name:        ProfileUniversal,
		PageSegMode: PSMSingleBlock,
		Variables:   map[string]string{"preserve_interword_spaces": "1", "tessedit_do_invert": "0"},
	},
	ProfileDocument: {
		Name:        ProfileDocument,
		PageSegMode: PSMAuto,
		Variables:   map[string]string{"preserve_interword_spaces": "1"},
	},
	ProfileSingleLine: {Name: ProfileSingleLine, PageSegMode: PSMSingleLine},
	ProfileSingleWord: {Name: ProfileSingleWord, PageSegMode: PSMSingleWord},
	ProfileBlurry: {
		Name:        ProfileBlurry,
		PageSegMode: PSMSingleBlock,
		Variables:   map[string]string{"textord_min_linesize": "0.5", "textord_old_xheight": "1"},
	},
	ProfileAmharic: {
		Name:        ProfileAmharic,
		PageSegMode: PSMSingleBlock,
		Variables:   map[string]string{"textord_min_linesize": "1.8", "preserve_interword_spaces": "1"},
	},
	ProfileArabic: {
		Name:        ProfileArabic,
		PageSegMode: PSMSingleBlock,
		Variables:   map[string]string{"preserve_interword_spaces": "1", "textord_arabic_normstr": "1"},
	},
	ProfileChinese: {
		Name:        ProfileChinese,
		PageSegMode: PSMSingleBlock,
		Variables:   map[string]string{"preserve_interword_spaces": "0", "textord_really_old_xheight": "1"},
	},
}

// DefaultProfiles returns the process-wide profile registry.
func DefaultProfiles() ProfileRegistry {
	return defaultProfiles
}

// Get returns the named profile, falling back to universal.
func (r ProfileRegistry) Get(name string) ConfigProfile {
	if p, ok := r[name]; ok {
		return p
	}
	return r[ProfileUniversal]
}

// languageProfiles selects a script-tuned profile by a group's lead code.
var languageProfiles = map[string]string{
	"amh":     ProfileAmharic,
	"ara":     ProfileArabic,
	"chi_sim": ProfileChinese,
	"chi_tra": ProfileChinese,
}

// isoToTesseract maps two-letter codes to engine codes.
var isoToTesseract = map[string]string{
	"en": "eng", "am": "amh", "ar": "ara", "zh": "chi_sim",
	"ja": "jpn", "ko": "kor", "ru": "rus", "hi": "hin",
	"es": "spa", "fr": "fra", "de": "deu", "it": "ita",
	"pt": "por", "tr": "tur", "vi": "vie", "th": "tha",
	"ti": "tir", "so": "som", "sw": "swa", "he": "heb",
}

var languageCodePattern = regexp.MustCompile(`^[a-z]{2,3}(_[a-z]+)?$`)

// LanguageGroup is an ordered set of language codes requested jointly.
type LanguageGroup struct {
	Codes []string
}

func (g LanguageGroup) String() string {
	return strings.Join(g.Codes, "+")
}

// Multi reports whether the group combines more than one language.
func (g LanguageGroup) Multi() bool {
	return len(g.Codes) > 1
}

// Primary returns the group reduced to its lead language.
func (g LanguageGroup) Primary() LanguageGroup {
	if len(g.Codes) == 0 {
		return g
	}
	return LanguageGroup{Codes: g.Codes[:1]}
}

// ParseLanguagePreference turns "eng+amh,ara" style input into language
// groups. Commas separate groups and '+' joins languages within a group.
// Empty input or "auto" yields the defaults.
func ParseLanguagePreference(pref, defaults string) []LanguageGroup {
	groups := parseGroups(pref)
	if len(groups) == 0 {
		groups = parseGroups(defaults)
	}
	if len(groups) == 0 {
		groups = []LanguageGroup{{Codes: []string{"eng"}}}
	}
	return groups
}

// InstalledOnly drops codes the engine has no data for. Groups left empty or
// duplicating an earlier group are removed; nil means nothing survived.
func InstalledOnly(groups []LanguageGroup, installed map[string]bool) []LanguageGroup {
	var out []LanguageGroup
	seen := make(map[string]bool)
	for _, g := range groups {
		var codes []string
		for _, code := range g.Codes {
			if installed[code] {
				codes = append(codes, code)
			}
		}
		if len(codes) == 0 {
			continue
		}
		kept := LanguageGroup{Codes: codes}
		if seen[kept.String()] {
			continue
		}
		seen[kept.String()] = true
		out = append(out, kept)
	}
	return out
}

func parseGroups(pref string) []LanguageGroup {
	pref = strings.ToLower(strings.TrimSpace(pref))
	if pref == "" || pref == "auto" {
		return nil
	}

	var groups []LanguageGroup
	seen := make(map[string]bool)
	for _, raw := range strings.Split(pref, ",") {
		var codes []string
		inGroup := make(map[string]bool)
		for _, code := range strings.Split(raw, "+") {
			code = strings.TrimSpace(code)
			if mapped, ok := isoToTesseract[code]; ok {
				code = mapped
			}
			if !languageCodePattern.MatchString(code) || inGroup[code] {
				continue
			}
			inGroup[code] = true
			codes = append(codes, code)
		}
		if len(codes) == 0 {
			continue
		}
		g := LanguageGroup{Codes: codes}
		if seen[g.String()] {
			continue
		}
		seen[g.String()] = true
		groups = append(groups, g)
	}
	return groups
}

// Priority tiers; lower tiers survive the attempt cap first.
const (
	tierCore = iota
	tierSingleLanguage
	tierSecondaryGroup
	tierRedundantConfig
)

// Strategy is one planned extraction attempt.
type Strategy struct {
	// Index is the position in canonical order, used for deterministic tie-breaks.
	Index    int
	Variant  *preprocess.Variant
	Language LanguageGroup
	Profile  ConfigProfile
	Priority int
}

func (s Strategy) key() string {
	return s.Variant.Name + "|" + s.Language.String() + "|" + s.Profile.Name
}

func (s Strategy) String() string {
	return fmt.Sprintf("%s+%s/%s", s.Variant.Name, s.Language, s.Profile.Name)
}

// BlurTargeted reports whether the attempt runs on a blur-recovery variant.
func (s Strategy) BlurTargeted() bool {
	return s.Variant != nil && s.Variant.Technique.BlurTargeted()
}

// BuildMatrix plans the attempts for one call. The result is ordered by
// priority tier, then by variant order, and holds at most maxAttempts entries.
func BuildMatrix(variants []*preprocess.Variant, groups []LanguageGroup, profiles ProfileRegistry, maxAttempts int) []Strategy {
	if len(variants) == 0 || len(groups) == 0 || maxAttempts <= 0 {
		return nil
	}
	if profiles == nil {
		profiles = DefaultProfiles()
	}

	var planned []Strategy
	positions := make(map[string]int)
	add := func(v *preprocess.Variant, g LanguageGroup, profile string, tier int) {
		s := Strategy{Variant: v, Language: g, Profile: profiles.Get(profile), Priority: tier}
		if pos, ok := positions[s.key()]; ok {
			if tier < planned[pos].Priority {
				planned[pos].Priority = tier
			}
			return
		}
		positions[s.key()] = len(planned)
		planned = append(planned, s)
	}

	primary := groups[0]
	single := primary.Primary()
	for _, v := range variants {
		if v.Technique.BlurTargeted() {
			add(v, primary, ProfileBlurry, tierCore)
			add(v, single, ProfileBlurry, tierSingleLanguage)
			continue
		}

		for i, g := range groups {
			tier := tierCore
			if i > 0 {
				tier = tierSecondaryGroup
			}
			add(v, g, profileFor(g, profiles), tier)
		}
		add(v, single, profileFor(single, profiles), tierSingleLanguage)

		if v.Technique == preprocess.Grayscale {
			add(v, primary, ProfileDocument, tierRedundantConfig)
			add(v, primary, ProfileSingleLine, tierRedundantConfig)
		}
	}

	sort.SliceStable(planned, func(i, j int) bool {
		return planned[i].Priority < planned[j].Priority
	})
	if len(planned) > maxAttempts {
		planned = planned[:maxAttempts]
	}
	for i := range planned {
		planned[i].Index = i
	}
	return planned
}

func profileFor(g LanguageGroup, profiles ProfileRegistry) string {
	if len(g.Codes) == 0 {
		return ProfileUniversal
	}
	if name, ok := languageProfiles[g.Codes[0]]; ok {
		if _, exists := profiles[name]; exists {
			return name
		}
	}
	return ProfileUniversal
}
