package feed

import (
	_ "embed"
	"fmt"
	"net/url"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"
)

const DefaultRegionCode = "us"

type Region struct {
	Code string `yaml:"code" json:"code"`
	Name string `yaml:"name" json:"name"`
	HL   string `yaml:"hl" json:"-"`
	GL   string `yaml:"gl" json:"-"`
	CEID string `yaml:"ceid" json:"-"`
}

//go:embed regions.yaml
var regionsYAML []byte

// Regions is an ordered lookup table of supported news editions.
type Regions struct {
	list   []Region
	byCode map[string]Region
}

func LoadRegions(data []byte) (*Regions, error) {
	var doc struct {
		Regions []Region `yaml:"regions"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse regions: %w", err)
	}
	if len(doc.Regions) == 0 {
		return nil, fmt.Errorf("parse regions: no regions defined")
	}
	r := &Regions{byCode: make(map[string]Region, len(doc.Regions))}
	for _, reg := range doc.Regions {
		reg.Code = strings.ToLower(strings.TrimSpace(reg.Code))
		if reg.Code == "" || reg.HL == "" || reg.GL == "" || reg.CEID == "" {
			return nil, fmt.Errorf("parse regions: incomplete entry %+v", reg)
		}
		r.list = append(r.list, reg)
		r.byCode[reg.Code] = reg
	}
	return r, nil
}

// DefaultRegions returns the embedded region table.
func DefaultRegions() *Regions {
	r, err := LoadRegions(regionsYAML)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Regions) List() []Region {
	out := make([]Region, len(r.list))
	copy(out, r.list)
	return out
}

// Resolve maps free-form input to a region: an exact code, then a country
// name contained in the input, then a code appearing as a separate word
// ("Taipei, TW"). Anything else falls back to the default region.
func (r *Regions) Resolve(input string) Region {
	key := strings.ToLower(strings.TrimSpace(input))
	if reg, ok := r.byCode[key]; ok {
		return reg
	}
	if key != "" {
		for _, reg := range r.list {
			if strings.Contains(key, strings.ToLower(reg.Name)) {
				return reg
			}
		}
		words := strings.FieldsFunc(key, func(c rune) bool { return !unicode.IsLetter(c) })
		for _, w := range words {
			if reg, ok := r.byCode[w]; ok {
				return reg
			}
		}
	}
	if reg, ok := r.byCode[DefaultRegionCode]; ok {
		return reg
	}
	return r.list[0]
}

// SearchURL builds the Google News search feed for a query, limited to the
// last 24 hours.
func SearchURL(query string, reg Region) string {
	return "https://news.google.com/rss/search?q=" + url.QueryEscape(query) +
		"+when:1d&hl=" + reg.HL + "&gl=" + reg.GL + "&ceid=" + reg.CEID
}
