package memberauth

import "time"

// MemberStats is the admin dashboard summary computed over the full
// member list. All derived numbers come from the same snapshot, the
// caller passes the clock so results are reproducible.
type MemberStats struct {
	TotalUsers    int `json:"total_users"`
	ActiveUsers   int `json:"active_users"`
	FreeUsers     int `json:"free_users"`
	ProUsers      int `json:"pro_users"`
	MasterUsers   int `json:"master_users"`
	PaidUsers     int `json:"paid_users"`
	NewLast7Days  int `json:"new_last_7_days"`
	NewLast30Days int `json:"new_last_30_days"`
	RecentLogins  int `json:"recent_logins"`
	PhoneVerified int `json:"phone_verified"`

	// ConversionRate is paid/total in percent, 0 for an empty list.
	ConversionRate float64 `json:"conversion_rate"`
	// EstimatedRevenue is the monthly BRL sum over paid plans.
	EstimatedRevenue int `json:"estimated_revenue"`
	// WeeklyGrowth compares the trailing 7-day signup window with the
	// 7 days before it, in percent. 0 when the prior window is empty.
	WeeklyGrowth float64 `json:"weekly_growth"`
}

// ActivityPoint is one calendar day of the activity series.
type ActivityPoint struct {
	Date    string `json:"date"`
	Signups int    `json:"signups"`
	Logins  int    `json:"logins"`
}

// PlanBucket is one slice of the plan distribution chart.
type PlanBucket struct {
	Plan  Plan   `json:"plan"`
	Label string `json:"label"`
	Color string `json:"color"`
	Count int    `json:"count"`
}

// CalculateStats aggregates the member list into the dashboard
// summary. Windows are day-granular: inclusive lower bound, exclusive
// upper bound at now.
func CalculateStats(users []*User, now time.Time) MemberStats {
	stats := MemberStats{}

	weekAgo := now.AddDate(0, 0, -7)
	twoWeeksAgo := now.AddDate(0, 0, -14)
	monthAgo := now.AddDate(0, 0, -30)

	priorWeekSignups := 0

	for _, u := range users {
		if u == nil {
			continue
		}
		stats.TotalUsers++

		if u.IsActive {
			stats.ActiveUsers++
		}
		if u.PhoneVerified {
			stats.PhoneVerified++
		}

		switch u.Plan {
		case PlanPro:
			stats.ProUsers++
		case PlanMaster:
			stats.MasterUsers++
		default:
			stats.FreeUsers++
		}

		if u.CreatedAt != nil {
			created := *u.CreatedAt
			if inWindow(created, weekAgo, now) {
				stats.NewLast7Days++
			}
			if inWindow(created, monthAgo, now) {
				stats.NewLast30Days++
			}
			if inWindow(created, twoWeeksAgo, weekAgo) {
				priorWeekSignups++
			}
		}

		if u.LastLogin != nil && inWindow(*u.LastLogin, weekAgo, now) {
			stats.RecentLogins++
		}
	}

	stats.PaidUsers = stats.ProUsers + stats.MasterUsers
	stats.EstimatedRevenue = stats.ProUsers*PlanProPrice + stats.MasterUsers*PlanMasterPrice

	if stats.TotalUsers > 0 {
		stats.ConversionRate = float64(stats.PaidUsers) / float64(stats.TotalUsers) * 100
	}

	if priorWeekSignups > 0 {
		stats.WeeklyGrowth = float64(stats.NewLast7Days-priorWeekSignups) / float64(priorWeekSignups) * 100
	}

	return stats
}

// ActivitySeries builds exactly 30 calendar-day points ending today,
// oldest first, zero-filled for days without any event.
func ActivitySeries(users []*User, now time.Time) []ActivityPoint {
	const days = 30

	points := make([]ActivityPoint, days)
	index := make(map[string]int, days)

	day := startOfDay(now).AddDate(0, 0, -(days - 1))
	for i := 0; i < days; i++ {
		key := day.Format("2006-01-02")
		points[i] = ActivityPoint{Date: key}
		index[key] = i
		day = day.AddDate(0, 0, 1)
	}

	for _, u := range users {
		if u == nil {
			continue
		}
		if u.CreatedAt != nil {
			if i, ok := index[u.CreatedAt.Format("2006-01-02")]; ok {
				points[i].Signups++
			}
		}
		if u.LastLogin != nil {
			if i, ok := index[u.LastLogin.Format("2006-01-02")]; ok {
				points[i].Logins++
			}
		}
	}

	return points
}

// PlanDistribution buckets the member list by plan. The three buckets
// are always present and their counts sum to the list length.
func PlanDistribution(users []*User) []PlanBucket {
	buckets := []PlanBucket{
		{Plan: PlanFree, Label: "Gratuito", Color: "#6b7280"},
		{Plan: PlanPro, Label: "Pro", Color: "#3b82f6"},
		{Plan: PlanMaster, Label: "Master", Color: "#f59e0b"},
	}

	for _, u := range users {
		if u == nil {
			continue
		}
		switch u.Plan {
		case PlanPro:
			buckets[1].Count++
		case PlanMaster:
			buckets[2].Count++
		default:
			buckets[0].Count++
		}
	}

	return buckets
}

// inWindow reports from <= t < to.
func inWindow(t, from, to time.Time) bool {
	return !t.Before(from) && t.Before(to)
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
