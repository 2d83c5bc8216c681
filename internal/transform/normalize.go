package transform

import (
	"fmt"
	"strings"
	"time"
)

// teamNames maps upstream team names, including historical entries, to the
// names the frontend ships assets for.
var teamNames = map[string]string{
	"Red Bull Racing": "Red Bull Racing",
	"Mercedes":        "Mercedes",
	"Ferrari":         "Ferrari",
	"McLaren":         "McLaren",
	"Alpine F1 Team":  "Alpine",
	"Alpine":          "Alpine",
	"Aston Martin":    "Aston Martin",
	"Williams":        "Williams",
	"Haas F1 Team":    "Haas",
	"Kick Sauber":     "Kick Sauber",
	"Alfa Romeo":      "Kick Sauber",
	"Sauber":          "Kick Sauber",
	"Racing Point":    "Aston Martin",
	"Renault":         "Alpine",
	"Toro Rosso":      "Racing Bulls",
	"AlphaTauri":      "Racing Bulls",
	"RB":              "Racing Bulls",
	"Racing Bulls":    "Racing Bulls",
}

// DefaultTeamColor is used when the provider has no usable colour.
const DefaultTeamColor = "#CCCCCC"

const (
	teamLogoPath       = "/telemetrics/team_logos/%s.png"
	driverHeadshotPath = "/telemetrics/driver_images/%s.png"
)

// TeamName returns the canonical team name; unknown names pass through.
func TeamName(upstream string) string {
	if n, ok := teamNames[upstream]; ok {
		return n
	}
	return upstream
}

// TeamColor renders an upstream colour as #RRGGBB.
func TeamColor(c string) string {
	c = strings.TrimPrefix(strings.TrimSpace(c), "#")
	if len(c) != 6 {
		return DefaultTeamColor
	}
	for _, r := range c {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return DefaultTeamColor
		}
	}
	return "#" + strings.ToUpper(c)
}

// TeamLogo returns the asset path of a team's logo.
func TeamLogo(team string) string {
	file := strings.ReplaceAll(strings.ToLower(TeamName(team)), " ", "_")
	return fmt.Sprintf(teamLogoPath, file)
}

// Headshot prefers the provider's image and falls back to the bundled asset.
func Headshot(providerURL, abbreviation string) string {
	if providerURL != "" {
		return providerURL
	}
	return fmt.Sprintf(driverHeadshotPath, strings.ToUpper(abbreviation))
}

// Compound normalizes a tyre compound to SOFT, MEDIUM, HARD, INTERMEDIATE,
// WET or UNKNOWN.
func Compound(c string) string {
	switch s := strings.ToUpper(strings.TrimSpace(c)); s {
	case "SOFT", "MEDIUM", "HARD", "INTERMEDIATE", "WET":
		return s
	}
	return "UNKNOWN"
}

// DNF is rendered for durations the provider did not publish.
const DNF = "DNF"

// FormatDuration renders d as M:SS.mmm, or H:MM:SS.mmm from one hour up.
// A nil duration renders as DNF.
func FormatDuration(d *time.Duration) string {
	if d == nil {
		return DNF
	}
	ms := d.Round(time.Millisecond).Milliseconds()
	sign := ""
	if ms < 0 {
		sign, ms = "-", -ms
	}
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	frac := ms % 1000
	if h > 0 {
		return fmt.Sprintf("%s%d:%02d:%02d.%03d", sign, h, m, s, frac)
	}
	return fmt.Sprintf("%s%d:%02d.%03d", sign, m, s, frac)
}

// FormatLapTime renders a lap time as minutes:seconds.milliseconds with the
// seconds zero-padded, minutes unbounded.
func FormatLapTime(d time.Duration) string {
	ms := d.Round(time.Millisecond).Milliseconds()
	return fmt.Sprintf("%d:%02d.%03d", ms/60_000, ms/1000%60, ms%1000)
}

func seconds(d *time.Duration) *float64 {
	if d == nil {
		return nil
	}
	s := d.Seconds()
	return &s
}
