package leviton

import "sort"

// Category groups device models by the entity they are exposed as.
type Category string

const (
	CategoryController Category = "controller"
	CategoryFan        Category = "fan"
	CategoryGFCI       Category = "gfci"
	CategoryLight      Category = "light"
	CategoryMotion     Category = "motion"
	CategoryOutlet     Category = "outlet"
	CategorySwitch     Category = "switch"
	CategoryUnknown    Category = "unknown"
)

// modelCatalog lists the supported models per category. A model may appear
// in several categories (D2MSD is a dimmer with a motion sensor, D2SCS is a
// scene controller with a load).
var modelCatalog = map[Category][]string{
	CategoryController: {"D2SCS", "DW4BC"},
	CategoryFan:        {"D24SF", "DW4SF"},
	CategoryGFCI:       {"D2GF1", "D2GF2"},
	CategoryLight:      {"D23LP", "D26HD", "D2ELV", "D2MSD", "DW1KD", "DW3HL", "DW6HD", "DWVAA"},
	CategoryMotion:     {"D2MSD"},
	CategoryOutlet:     {"D215P", "D215R", "DW15A", "DW15P", "DW15R"},
	CategorySwitch:     {"D215O", "D215S", "D2SCS", "DW15S"},
}

// primaryOrder decides the single category recorded for a model.
var primaryOrder = []Category{
	CategoryFan, CategoryLight, CategoryGFCI, CategoryOutlet, CategorySwitch, CategoryController, CategoryMotion,
}

var modelIndex = buildModelIndex()

func buildModelIndex() map[string]map[Category]bool {
	idx := make(map[string]map[Category]bool)
	for cat, models := range modelCatalog {
		for _, m := range models {
			if idx[m] == nil {
				idx[m] = make(map[Category]bool)
			}
			idx[m][cat] = true
		}
	}
	return idx
}

// InCategory reports whether model belongs to cat.
func InCategory(model string, cat Category) bool {
	return modelIndex[model][cat]
}

// IsDimmable reports whether the model accepts a brightness level (lights and fans).
func IsDimmable(model string) bool {
	return InCategory(model, CategoryLight) || InCategory(model, CategoryFan)
}

// IsOnOffOnly reports whether the model is a plain switch, outlet or GFCI.
func IsOnOffOnly(model string) bool {
	return InCategory(model, CategorySwitch) || InCategory(model, CategoryOutlet) || InCategory(model, CategoryGFCI)
}

// IsSupported reports whether the model appears in any category.
func IsSupported(model string) bool {
	return len(modelIndex[model]) > 0
}

// PrimaryCategory returns the category used to label a device in storage
// and telemetry.
func PrimaryCategory(model string) Category {
	for _, cat := range primaryOrder {
		if InCategory(model, cat) {
			return cat
		}
	}
	return CategoryUnknown
}

// SupportedModels returns every known model, sorted.
func SupportedModels() []string {
	out := make([]string, 0, len(modelIndex))
	for m := range modelIndex {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
