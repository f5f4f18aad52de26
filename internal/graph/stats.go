package graph

import (
	"sort"

	"github.com/JonMunkholm/doorgraph/internal/onion"
	"github.com/JonMunkholm/doorgraph/internal/schema"
)

const dateLayout = "2006-01-02"

// DateRange holds display-formatted dates.
type DateRange struct {
	Min string `json:"min"`
	Max string `json:"max"`
}

// DeviceCount is one entry of the activity ranking.
type DeviceCount struct {
	DoorID string `json:"device_id"`
	Count  int    `json:"count"`
}

// StatsSummary is a read-only view over the enriched event table.
type StatsSummary struct {
	TotalAccessEvents    int                          `json:"total_access_events"`
	DeniedEvents         int                          `json:"denied_events"`
	EventDateRange       DateRange                    `json:"event_date_range"`
	DaysWithData         int                          `json:"days_with_data"`
	NumDevices           int                          `json:"num_devices"`
	UniqueTokens         int                          `json:"unique_tokens"`
	MostActiveDevices    []DeviceCount                `json:"most_active_devices"`
	PeakHour             *int                         `json:"peak_hour"`
	PeakDay              string                       `json:"peak_day"`
	EntranceDevicesCount int                          `json:"entrance_devices_count"`
	HighSecurityDevices  int                          `json:"high_security_devices"`
	SecurityBreakdown    map[schema.SecurityLevel]int `json:"security_breakdown"`
	MostActiveUser       string                       `json:"most_active_user"`
	AvgEventsPerUser     float64                      `json:"avg_events_per_user"`
	DisconnectedDevices  int                          `json:"disconnected_devices"`
}

// EmptyStats is the all-zero summary surfaced when a run fails.
func EmptyStats() StatsSummary {
	return StatsSummary{
		MostActiveDevices: []DeviceCount{},
		SecurityBreakdown: map[schema.SecurityLevel]int{},
	}
}

// Summarize derives statistics from an engine result. topN bounds the
// device ranking; values below 1 use DefaultTopDevices.
func Summarize(res *onion.Result, topN int) StatsSummary {
	s := EmptyStats()
	if res == nil || len(res.EnrichedEvents) == 0 {
		return s
	}
	if topN <= 0 {
		topN = DefaultTopDevices
	}

	days := make(map[string]struct{})
	perDoor := make(map[string]int)
	perUser := make(map[string]int)
	var perHour [24]int
	var perDay [7]int
	first, last := res.EnrichedEvents[0].Timestamp, res.EnrichedEvents[0].Timestamp

	for _, ev := range res.EnrichedEvents {
		s.TotalAccessEvents++
		if ev.EventType == schema.EventAccessDenied {
			s.DeniedEvents++
		}
		if ev.Timestamp.Before(first) {
			first = ev.Timestamp
		}
		if ev.Timestamp.After(last) {
			last = ev.Timestamp
		}
		days[ev.Timestamp.Format(dateLayout)] = struct{}{}
		perDoor[ev.DoorID]++
		perUser[ev.UserID]++
		perHour[ev.Timestamp.Hour()]++
		perDay[ev.Timestamp.Weekday()]++
	}

	s.EventDateRange = DateRange{Min: first.Format(dateLayout), Max: last.Format(dateLayout)}
	s.DaysWithData = len(days)
	s.NumDevices = len(perDoor)
	s.UniqueTokens = len(perUser)
	s.MostActiveDevices = topDevices(perDoor, topN)
	s.AvgEventsPerUser = float64(s.TotalAccessEvents) / float64(s.UniqueTokens)

	hour := argmax(perHour[:])
	s.PeakHour = &hour
	s.PeakDay = weekdayName(argmax(perDay[:]))
	s.MostActiveUser = topKey(perUser)

	for _, d := range res.Devices {
		s.SecurityBreakdown[d.SecurityLevel]++
		if d.IsEntrance {
			s.EntranceDevicesCount++
		}
		if d.SecurityLevel == schema.SecurityRed {
			s.HighSecurityDevices++
		}
		if d.Disconnected {
			s.DisconnectedDevices++
		}
	}

	return s
}

// topDevices ranks doors by count descending, door id ascending.
func topDevices(counts map[string]int, n int) []DeviceCount {
	out := make([]DeviceCount, 0, len(counts))
	for id, c := range counts {
		out = append(out, DeviceCount{DoorID: id, Count: c})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].DoorID < out[j].DoorID
	})
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func topKey(counts map[string]int) string {
	best, bestN := "", -1
	for k, n := range counts {
		if n > bestN || (n == bestN && k < best) {
			best, bestN = k, n
		}
	}
	return best
}

// argmax returns the first index holding the largest value.
func argmax(vals []int) int {
	best := 0
	for i, v := range vals {
		if v > vals[best] {
			best = i
		}
	}
	return best
}

var weekdays = [...]string{"Sunday", "Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday"}

func weekdayName(i int) string {
	if i < 0 || i >= len(weekdays) {
		return ""
	}
	return weekdays[i]
}
