// Package color holds the terminal styles used by devenv's command output.
//
// Styles adapt to the terminal background. `devenv state --theme` calls
// Initialize when the user names the background, otherwise lipgloss detects it.
//
// Respected environment variables:
//   - NO_COLOR disables colors entirely
//   - COLORTERM and TERM select the color profile
package color
