// Package osimage holds the static table of installable OS images and the
// board models able to boot 64-bit images.
package osimage

import (
	"path/filepath"
	"sort"
	"strings"
)

// Spec maps a human readable OS label to its compressed image file.
type Spec struct {
	Label string
	File  string
	// AlwaysAvailable images boot on every supported board; the others
	// require a 64-bit capable model.
	AlwaysAvailable bool
}

// DefaultSpecs is the image table loaded at process start.
var DefaultSpecs = []Spec{
	{Label: "Raspberry Pi OS (32-bit)", File: "arm.img.xz", AlwaysAvailable: true},
	{Label: "Raspberry Pi OS (64-bit)", File: "arm64.img.xz", AlwaysAvailable: false},
}

// Models64Bit lists the board models that can boot a 64-bit image.
var Models64Bit = []string{
	"3b", "3b+", "3a+", "4b", "400", "5", "CM3", "CM3+", "CM4", "CM4S", "Zero2W",
}

// Catalog is an immutable lookup over image specs rooted at an images directory.
type Catalog struct {
	dir      string
	specs    []Spec
	byLabel  map[string]Spec
	models64 map[string]struct{}
}

// NewCatalog builds a catalog. The specs and models slices are copied.
func NewCatalog(dir string, specs []Spec, models64 []string) *Catalog {
	c := &Catalog{
		dir:      dir,
		specs:    append([]Spec(nil), specs...),
		byLabel:  make(map[string]Spec, len(specs)),
		models64: make(map[string]struct{}, len(models64)),
	}
	for _, s := range c.specs {
		c.byLabel[s.Label] = s
	}
	for _, m := range models64 {
		c.models64[m] = struct{}{}
	}
	return c
}

// Default returns the catalog of DefaultSpecs rooted at dir.
func Default(dir string) *Catalog {
	return NewCatalog(dir, DefaultSpecs, Models64Bit)
}

// Dir returns the images directory.
func (c *Catalog) Dir() string {
	return c.dir
}

// Lookup returns the spec for label.
func (c *Catalog) Lookup(label string) (Spec, bool) {
	s, ok := c.byLabel[label]
	return s, ok
}

// Path returns the on-disk location of the spec's image file.
func (c *Catalog) Path(s Spec) string {
	return filepath.Join(c.dir, s.File)
}

// Specs returns the table sorted by label.
func (c *Catalog) Specs() []Spec {
	out := append([]Spec(nil), c.specs...)
	sort.Slice(out, func(i, j int) bool { return out[i].Label < out[j].Label })
	return out
}

// Supports64Bit reports whether model can boot 64-bit images.
// Matching is exact, as model IDs come from the front-end's fixed list.
func (c *Catalog) Supports64Bit(model string) bool {
	_, ok := c.models64[strings.TrimSpace(model)]
	return ok
}

// AvailableVersions returns the labels installable on model: every label when
// the model is 64-bit capable, otherwise only the always-available ones.
func (c *Catalog) AvailableVersions(model string) []string {
	is64 := c.Supports64Bit(model)
	versions := make([]string, 0, len(c.specs))
	for _, s := range c.Specs() {
		if s.AlwaysAvailable || is64 {
			versions = append(versions, s.Label)
		}
	}
	return versions
}
