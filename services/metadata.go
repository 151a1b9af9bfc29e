package services

import (
	"fmt"
	"os"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/agext/levenshtein"
	"gopkg.in/yaml.v3"

	"civic-ingest/models"
)

// CategoryRule maps structured path tokens and filename keywords to one category
type CategoryRule struct {
	Name     string   `yaml:"name"`
	Tokens   []string `yaml:"tokens"`
	Keywords []string `yaml:"keywords"`
}

// BoardRule maps spellings of a board name to its canonical form
type BoardRule struct {
	Name     string   `yaml:"name"`
	Synonyms []string `yaml:"synonyms"`
}

// MetadataRules drives metadata extraction. Category order is keyword precedence.
type MetadataRules struct {
	Categories []CategoryRule `yaml:"categories"`
	Boards     []BoardRule    `yaml:"boards"`
}

var defaultRules = MetadataRules{
	Categories: []CategoryRule{
		{Name: "minutes", Tokens: []string{"minutes"}, Keywords: []string{"minutes", "minute"}},
		{Name: "agenda", Tokens: []string{"agenda", "agendas"}, Keywords: []string{"agenda", "agendas"}},
		{Name: "budget", Tokens: []string{"budget", "budgets"}, Keywords: []string{"budget", "budgets"}},
		{Name: "report", Tokens: []string{"report", "reports"}, Keywords: []string{"report", "reports", "annual report"}},
		{Name: "ordinance", Tokens: []string{"ordinance", "ordinances", "bylaws"}, Keywords: []string{"ordinance", "ordinances"}},
		{Name: "permit", Tokens: []string{"permit", "permits"}, Keywords: []string{"permit", "permits"}},
		{Name: "warrant", Tokens: []string{"warrant", "warrants"}, Keywords: []string{"warrant", "warrants"}},
		{Name: "tax", Tokens: []string{"tax", "taxes"}, Keywords: []string{"tax", "taxes"}},
		{Name: "notice", Tokens: []string{"notices"}},
		{Name: "policy", Tokens: []string{"policies"}},
		{Name: "regulation", Tokens: []string{"regulations"}},
	},
	Boards: []BoardRule{
		{Name: "Zoning Board", Synonyms: []string{"zba", "zoning board", "zoning board of adjustment", "board of adjustment"}},
		{Name: "Board of Selectmen", Synonyms: []string{"bos", "selectmen", "select board", "selectboard", "board of selectmen"}},
		{Name: "Planning Board", Synonyms: []string{"planning board", "planning commission"}},
		{Name: "Conservation Commission", Synonyms: []string{"conservation commission", "concom", "con com"}},
		{Name: "Budget Committee", Synonyms: []string{"budget committee", "budcom"}},
		{Name: "School Board", Synonyms: []string{"school board", "school committee"}},
		{Name: "Library Trustees", Synonyms: []string{"library trustees", "library board"}},
		{Name: "Historic District Commission", Synonyms: []string{"historic district commission", "hdc"}},
		{Name: "Heritage Commission", Synonyms: []string{"heritage commission"}},
		{Name: "Board of Health", Synonyms: []string{"board of health", "health officer"}},
		{Name: "Cemetery Trustees", Synonyms: []string{"cemetery trustees"}},
		{Name: "Trustees of Trust Funds", Synonyms: []string{"trustees of trust funds", "trust funds"}},
		{Name: "Recreation Committee", Synonyms: []string{"recreation committee", "parks and recreation"}},
		{Name: "Town Meeting", Synonyms: []string{"town meeting"}},
	},
}

var (
	yearPattern    = regexp.MustCompile(`(?:^|[^0-9])((?:19|20)\d{2})(?:[^0-9]|$)`)
	isoDatePattern = regexp.MustCompile(`(?:^|[^0-9])((?:19|20)\d{2})[-_](\d{1,2})[-_](\d{1,2})(?:[^0-9]|$)`)
	usDatePattern  = regexp.MustCompile(`(?:^|[^0-9])(\d{1,2})[-_](\d{1,2})[-_](\d{4}|\d{2})(?:[^0-9]|$)`)
)

type boardSynonym struct {
	normalized string
	board      string
}

// MetadataExtractor derives document metadata from an object key or filename
type MetadataExtractor struct {
	categories []CategoryRule
	tokens     map[string]string
	synonyms   []boardSynonym
}

func NewMetadataExtractor(rules MetadataRules) *MetadataExtractor {
	if len(rules.Categories) == 0 {
		rules.Categories = defaultRules.Categories
	}
	if len(rules.Boards) == 0 {
		rules.Boards = defaultRules.Boards
	}

	e := &MetadataExtractor{categories: rules.Categories, tokens: map[string]string{}}
	for _, c := range rules.Categories {
		for _, t := range c.Tokens {
			e.tokens[normalizeKey(t)] = c.Name
		}
	}
	for _, b := range rules.Boards {
		for _, syn := range b.Synonyms {
			if n := normalizeKey(syn); n != "" {
				e.synonyms = append(e.synonyms, boardSynonym{normalized: n, board: b.Name})
			}
		}
	}
	// Longest synonym wins: "zoning board of adjustment" before "zoning board".
	sort.SliceStable(e.synonyms, func(i, j int) bool {
		return len(e.synonyms[i].normalized) > len(e.synonyms[j].normalized)
	})
	return e
}

// LoadMetadataRules reads a YAML rules file. An empty path yields the built-in rules.
func LoadMetadataRules(rulesPath string) (MetadataRules, error) {
	if rulesPath == "" {
		return defaultRules, nil
	}
	data, err := os.ReadFile(rulesPath)
	if err != nil {
		return MetadataRules{}, fmt.Errorf("read metadata rules: %w", err)
	}
	var rules MetadataRules
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return MetadataRules{}, fmt.Errorf("parse metadata rules: %w", err)
	}
	return rules, nil
}

var defaultExtractor = NewMetadataExtractor(defaultRules)

// ExtractMetadata runs the built-in rules
func ExtractMetadata(sourceKey string) models.DocumentMetadata {
	return defaultExtractor.Extract(sourceKey)
}

// Extract never fails; unknown parts degrade to defaults.
func (e *MetadataExtractor) Extract(sourceKey string) models.DocumentMetadata {
	key := strings.Trim(strings.ReplaceAll(sourceKey, "\\", "/"), "/")
	segments := splitSegments(key)

	meta := models.DocumentMetadata{
		Town:     models.UnknownTown,
		Category: models.UncategorizedCategory,
	}
	if len(segments) > 0 {
		meta.Filename = segments[len(segments)-1]
	}

	if !e.structured(segments, &meta) {
		e.flat(segments, &meta)
	}

	if date, ok := findMeetingDate(meta.Filename); ok {
		meta.MeetingDate = date.Format("2006-01-02")
		meta.Year = date.Year()
	}
	meta.IsMinutes = meta.Category == "minutes"
	return meta
}

// structured handles town/category/board/year/... keys
func (e *MetadataExtractor) structured(segments []string, meta *models.DocumentMetadata) bool {
	if len(segments) < 4 {
		return false
	}
	category, ok := e.categoryToken(segments[1])
	if !ok {
		return false
	}

	meta.Town = normalizeTown(segments[0])
	meta.Category = category
	meta.Board = strings.Join(strings.Fields(strings.NewReplacer("_", " ", "-", " ").Replace(segments[2])), " ")
	if year, ok := parseYear(segments[3]); ok {
		meta.Year = year
	}
	return true
}

func (e *MetadataExtractor) flat(segments []string, meta *models.DocumentMetadata) {
	if len(segments) > 1 {
		meta.Town = normalizeTown(segments[0])
	}
	if m := yearPattern.FindStringSubmatch(meta.Filename); m != nil {
		meta.Year, _ = strconv.Atoi(m[1])
	}

	name := " " + normalizeKey(strings.TrimSuffix(meta.Filename, path.Ext(meta.Filename))) + " "
	for _, syn := range e.synonyms {
		if strings.Contains(name, " "+syn.normalized+" ") {
			meta.Board = syn.board
			break
		}
	}
	for _, c := range e.categories {
		for _, kw := range c.Keywords {
			if n := normalizeKey(kw); n != "" && strings.Contains(name, " "+n+" ") {
				meta.Category = c.Name
				return
			}
		}
	}
}

// categoryToken matches a path segment against known category tokens,
// tolerating one typo in tokens of six or more runes.
func (e *MetadataExtractor) categoryToken(segment string) (string, bool) {
	n := normalizeKey(segment)
	if n == "" {
		return "", false
	}
	if category, ok := e.tokens[n]; ok {
		return category, true
	}
	if utf8.RuneCountInString(n) < 6 {
		return "", false
	}
	best, bestToken := "", ""
	for token, category := range e.tokens {
		if utf8.RuneCountInString(token) < 6 || levenshtein.Distance(n, token, nil) > 1 {
			continue
		}
		// Deterministic pick when several tokens are one edit away.
		if bestToken == "" || token < bestToken {
			best, bestToken = category, token
		}
	}
	return best, best != ""
}

func findMeetingDate(filename string) (time.Time, bool) {
	for _, m := range isoDatePattern.FindAllStringSubmatch(filename, -1) {
		if d, ok := validDate(m[1], m[2], m[3]); ok {
			return d, true
		}
	}
	for _, m := range usDatePattern.FindAllStringSubmatch(filename, -1) {
		year := m[3]
		if len(year) == 2 {
			yy, _ := strconv.Atoi(year)
			if yy < 70 {
				year = strconv.Itoa(2000 + yy)
			} else {
				year = strconv.Itoa(1900 + yy)
			}
		}
		if d, ok := validDate(year, m[1], m[2]); ok {
			return d, true
		}
	}
	return time.Time{}, false
}

func validDate(year, month, day string) (time.Time, bool) {
	y, err1 := strconv.Atoi(year)
	mo, err2 := strconv.Atoi(month)
	d, err3 := strconv.Atoi(day)
	if err1 != nil || err2 != nil || err3 != nil || mo < 1 || mo > 12 || d < 1 {
		return time.Time{}, false
	}
	t := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes Feb 30 into March; reject anything that moved.
	if t.Year() != y || int(t.Month()) != mo || t.Day() != d {
		return time.Time{}, false
	}
	return t, true
}

func parseYear(s string) (int, bool) {
	if len(s) != 4 || !yearPattern.MatchString(s) {
		return 0, false
	}
	y, err := strconv.Atoi(s)
	return y, err == nil
}

func splitSegments(key string) []string {
	var out []string
	for _, s := range strings.Split(key, "/") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func normalizeTown(s string) string {
	town := strings.ToLower(strings.Join(strings.Fields(strings.NewReplacer("_", " ", "-", " ").Replace(s)), " "))
	if town == "" {
		return models.UnknownTown
	}
	return town
}

// normalizeKey lowercases and reduces every run of non-alphanumerics to one space
func normalizeKey(s string) string {
	return strings.Join(strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ")
}
