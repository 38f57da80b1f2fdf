package geometry

import (
	"fmt"
	"sort"
	"strings"
)

// Resolution is a named target display ratio, e.g. HD=1920x1080
type Resolution struct {
	Name  string      `json:"name" toml:"name"`
	Ratio AspectRatio `json:"ratio" toml:"ratio"`
}

// ParseResolution parses "<name>=<w>x<h>"
func ParseResolution(s string) (Resolution, error) {
	name, ratio, ok := strings.Cut(s, "=")
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return Resolution{}, fmt.Errorf("invalid resolution %q, expected <name>=<w>x<h>", s)
	}

	r, err := ParseAspectRatio(ratio)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Name: name, Ratio: r}, nil
}

func (r Resolution) String() string {
	return r.Name + "=" + r.Ratio.String()
}

// SortResolutions orders resolutions from narrowest to widest ratio
func SortResolutions(res []Resolution) {
	sort.SliceStable(res, func(i, j int) bool {
		return res[i].Ratio.Less(res[j].Ratio)
	})
}
