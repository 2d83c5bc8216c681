package model

// Output row shapes consumed by the frontend. Field names are part of the
// stored JSON schema; changing a tag is a breaking change for readers of
// telemetry_data.

// SessionResultRow is one classified (or unclassified) driver.
type SessionResultRow struct {
	Position     int      `json:"Position"`
	Abbreviation string   `json:"Abbreviation"`
	FullName     string   `json:"FullName"`
	TeamName     string   `json:"TeamName"`
	TeamLogo     string   `json:"TeamLogo"`
	TeamColor    string   `json:"TeamColor"`
	Status       string   `json:"Status"`
	Time         string   `json:"Time"`
	TimeSeconds  *float64 `json:"TimeSeconds"`
	DriverNumber string   `json:"DriverNumber"`
	Points       float64  `json:"Points"`
	GridPosition *int     `json:"GridPosition"`
	Q1           string   `json:"Q1"`
	Q2           string   `json:"Q2"`
	Q3           string   `json:"Q3"`
	Q1Seconds    *float64 `json:"Q1Seconds"`
	Q2Seconds    *float64 `json:"Q2Seconds"`
	Q3Seconds    *float64 `json:"Q3Seconds"`
	CountryCode  string   `json:"CountryCode"`
}

// PodiumRow is one of the top three classified drivers.
type PodiumRow struct {
	Position     int    `json:"Position"`
	Abbreviation string `json:"Abbreviation"`
	TeamName     string `json:"TeamName"`
	TeamColor    string `json:"TeamColor"`
	TeamLogo     string `json:"TeamLogo"`
	HeadshotURL  string `json:"HeadshotUrl"`
	Status       string `json:"Status"`
	Time         string `json:"Time"`
}

// FastestLap describes the quickest valid lap of the session.
type FastestLap struct {
	Driver       string `json:"Driver"`
	LapTime      string `json:"LapTime"`
	LapNumber    int    `json:"LapNumber"`
	TyreAge      int    `json:"TyreAge"`
	TyreCompound string `json:"TyreCompound"`
}

// SessionInfo is event metadata plus the lap count.
type SessionInfo struct {
	Country           string `json:"Country"`
	Location          string `json:"Location"`
	EventName         string `json:"EventName"`
	EventDate         string `json:"EventDate"`
	OfficialEventName string `json:"OfficialEventName"`
	TotalLaps         int    `json:"TotalLaps"`
}

// TrackDominance compares the top two finishers minisector by minisector.
type TrackDominance struct {
	Drivers    []string           `json:"drivers"`
	TeamColors []string           `json:"teamColors"`
	Segments   []DominanceSegment `json:"segments"`
}

// DominanceSegment is a contiguous stretch of track won by one driver.
type DominanceSegment struct {
	FastestDriver string       `json:"fastestDriver"`
	Points        [][2]float64 `json:"points"`
}

// TyreRow is the compound fitted on one lap.
type TyreRow struct {
	Driver       string `json:"Driver"`
	Abbreviation string `json:"Abbreviation"`
	LapNumber    int    `json:"LapNumber"`
	Compound     string `json:"Compound"`
}

// LapChart feeds the lap time chart.
type LapChart struct {
	Podium []string        `json:"podium"`
	Laps   []LapChartEntry `json:"laps"`
}

// LapChartEntry is one timed lap.
type LapChartEntry struct {
	Driver    string `json:"driver"`
	LapNumber int    `json:"lapNumber"`
	LapTime   string `json:"lapTime"`
}
