package coop

import (
	"slices"
	"time"
)

// SortByActivity returns the visible subscriptions of subs, most recently
// active first. lastMessage reports the time of a subscription's newest
// message, 0 when it has none. Ties are ordered by (BaseURL, Topic).
func SortByActivity(subs []Subscription, lastMessage func(subscriptionID string) int64) []Subscription {
	type ranked struct {
		sub  Subscription
		last int64
	}
	rs := make([]ranked, 0, len(subs))
	for _, s := range subs {
		if s.Internal {
			continue
		}
		rs = append(rs, ranked{sub: s, last: lastMessage(s.ID)})
	}

	slices.SortFunc(rs, func(a, b ranked) int {
		switch {
		case a.last > b.last:
			return -1
		case a.last < b.last:
			return 1
		case a.sub.BaseURL != b.sub.BaseURL:
			if a.sub.BaseURL < b.sub.BaseURL {
				return -1
			}
			return 1
		case a.sub.Topic < b.sub.Topic:
			return -1
		case a.sub.Topic > b.sub.Topic:
			return 1
		}
		return 0
	})

	out := make([]Subscription, len(rs))
	for i, r := range rs {
		out[i] = r.sub
	}
	return out
}

// A Day is a run of notifications sharing a calendar date.
type Day struct {
	Date          time.Time      `json:"date"`
	Notifications []Notification `json:"notifications"`
}

// GroupByDay splits ns, assumed ascending, into runs of the same calendar day
// in loc. A nil loc means time.Local.
func GroupByDay(ns []Notification, loc *time.Location) []Day {
	if loc == nil {
		loc = time.Local
	}
	days := []Day{}
	for _, n := range ns {
		t := time.Unix(n.Time, 0).In(loc)
		date := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
		if len(days) == 0 || !days[len(days)-1].Date.Equal(date) {
			days = append(days, Day{Date: date})
		}
		last := &days[len(days)-1]
		last.Notifications = append(last.Notifications, n)
	}
	return days
}
