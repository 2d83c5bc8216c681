package model

import "encoding/json"

// DataType discriminates the seven documents produced per session.
type DataType string

const (
	DataSessionResults DataType = "session_results"
	DataPodium         DataType = "podium"
	DataFastestLap     DataType = "fastest_lap"
	DataSessionInfo    DataType = "get_session_data"
	DataTrackDominance DataType = "track_dominance"
	DataTyres          DataType = "tyres"
	DataLapChart       DataType = "lap_chart_data"
)

// AllDataTypes lists the documents in the order they are produced.
var AllDataTypes = []DataType{
	DataSessionResults,
	DataPodium,
	DataFastestLap,
	DataSessionInfo,
	DataTrackDominance,
	DataTyres,
	DataLapChart,
}

// Valid reports whether d is one of the known data types.
func (d DataType) Valid() bool {
	for _, known := range AllDataTypes {
		if d == known {
			return true
		}
	}
	return false
}

// Document is one output of the transformer: either Empty (carrying the
// type's sentinel payload for the local backup) or Populated. Only populated
// documents are uploaded.
type Document struct {
	Type      DataType
	Payload   any
	populated bool
}

// Populated wraps a payload that should be uploaded.
func Populated(t DataType, payload any) Document {
	return Document{Type: t, Payload: payload, populated: true}
}

// Empty returns the empty variant of t with its sentinel payload.
func Empty(t DataType) Document {
	return Document{Type: t, Payload: EmptySentinel(t)}
}

// Populated reports whether the document carries data worth uploading.
func (d Document) Populated() bool {
	return d.populated
}

// MarshalJSON renders the payload only; the variant tag is not persisted.
func (d Document) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Payload)
}

// EmptySentinel returns the payload written in place of a failed or empty
// document of type t.
func EmptySentinel(t DataType) any {
	switch t {
	case DataFastestLap:
		return nil
	case DataSessionInfo:
		return map[string]any{}
	case DataTrackDominance:
		return TrackDominance{Drivers: []string{}, TeamColors: []string{}, Segments: []DominanceSegment{}}
	case DataLapChart:
		return LapChart{Podium: []string{}, Laps: []LapChartEntry{}}
	case DataSessionResults:
		return []SessionResultRow{}
	case DataPodium:
		return []PodiumRow{}
	case DataTyres:
		return []TyreRow{}
	default:
		return []any{}
	}
}
