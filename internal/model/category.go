package model

import (
	"fmt"
	"strings"
)

// Built-in category ids. They are always present and cannot be deleted.
const (
	CategoryWork     = "work"
	CategoryPersonal = "personal"
	CategoryStudy    = "study"
	CategoryHealth   = "health"
	CategoryOther    = "other"
)

// CustomCategoryPrefix is reserved for user-created categories so they can
// never collide with a built-in id.
const CustomCategoryPrefix = "custom_"

// DefaultCategory receives the tasks of a deleted custom category.
const DefaultCategory = CategoryWork

// Colors offered when creating a custom category.
var Colors = []string{"red", "orange", "yellow", "green", "teal", "blue", "indigo", "purple", "pink", "gray"}

// Category groups tasks and carries their display tokens.
type Category struct {
	ID          string `json:"-"`
	Name        string `json:"name"`
	Color       string `json:"color"`
	BorderColor string `json:"borderColor"`
	BgColor     string `json:"bgColor"`
	TextColor   string `json:"textColor"`
}

// NewCategory derives the display tokens from color.
func NewCategory(id, name, color string) Category {
	return Category{
		ID:          id,
		Name:        name,
		Color:       color,
		BorderColor: fmt.Sprintf("border-%s-500", color),
		BgColor:     fmt.Sprintf("bg-%s-500", color),
		TextColor:   fmt.Sprintf("text-%s-600 dark:text-%s-400", color, color),
	}
}

var builtinOrder = []string{CategoryWork, CategoryPersonal, CategoryStudy, CategoryHealth, CategoryOther}

// BuiltinIDs returns the built-in ids in display order.
func BuiltinIDs() []string {
	return append([]string(nil), builtinOrder...)
}

// Builtins returns a fresh map of the built-in categories.
func Builtins() map[string]Category {
	return map[string]Category{
		CategoryWork:     NewCategory(CategoryWork, "Work", "blue"),
		CategoryPersonal: NewCategory(CategoryPersonal, "Personal", "green"),
		CategoryStudy:    NewCategory(CategoryStudy, "Study", "purple"),
		CategoryHealth:   NewCategory(CategoryHealth, "Health", "pink"),
		CategoryOther:    NewCategory(CategoryOther, "Other", "gray"),
	}
}

// IsBuiltinCategory reports whether id names a built-in category.
func IsBuiltinCategory(id string) bool {
	for _, b := range builtinOrder {
		if b == id {
			return true
		}
	}
	return false
}

// IsCustomCategory reports whether id carries the custom prefix.
func IsCustomCategory(id string) bool {
	return strings.HasPrefix(id, CustomCategoryPrefix) && len(id) > len(CustomCategoryPrefix)
}

// ValidColor reports whether color is one of Colors.
func ValidColor(color string) bool {
	for _, c := range Colors {
		if c == color {
			return true
		}
	}
	return false
}
