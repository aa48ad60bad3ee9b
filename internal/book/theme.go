package book

import (
	"fmt"
	"strings"
)

// Canonical theme identifiers.
const (
	ThemeSpace      = "space"
	ThemeDino       = "dino"
	ThemePirate     = "pirate"
	ThemePrincess   = "princess"
	ThemeForest     = "forest"
	ThemeUnderwater = "underwater"
)

var themeAliases = map[string]string{
	"space":            ThemeSpace,
	"dino":             ThemeDino,
	"dinos":            ThemeDino,
	"dinosaur":         ThemeDino,
	"dino_explorer":    ThemeDino,
	"pirate":           ThemePirate,
	"pirates":          ThemePirate,
	"pirate_adventure": ThemePirate,
	"princess":         ThemePrincess,
	"princess_kingdom": ThemePrincess,
	"magic_kingdom":    ThemePrincess,
	"forest":           ThemeForest,
	"magic_forest":     ThemeForest,
	"enchanted_forest": ThemeForest,
	"magic":            ThemeForest,
	"fantasy":          ThemeForest,
	"underwater":       ThemeUnderwater,
	"underwater_magic": ThemeUnderwater,
	"ocean_adventure":  ThemeUnderwater,
}

// NormalizeTheme resolves aliases to a canonical theme id.
func NormalizeTheme(theme string) (string, error) {
	key := strings.ToLower(strings.TrimSpace(theme))
	key = strings.ReplaceAll(key, "-", "_")
	if canonical, ok := themeAliases[key]; ok {
		return canonical, nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownTheme, theme)
}
