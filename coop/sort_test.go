package coop_test

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/coop-messenger/coop-sync/coop"
)

func TestSortByActivity(t *testing.T) {
	sub := func(baseURL, topic string) coop.Subscription {
		return coop.Subscription{ID: coop.SubscriptionID(baseURL, topic), BaseURL: baseURL, Topic: topic}
	}
	a := sub("https://a.example", "zeta")
	b := sub("https://b.example", "alpha")
	c := sub("https://a.example", "alpha")
	d := sub("https://a.example", "news")
	hidden := sub("https://a.example", "hidden")
	hidden.Internal = true

	last := map[string]int64{
		a.ID:      100,
		b.ID:      300,
		d.ID:      100,
		hidden.ID: 999,
	}
	lastMessage := func(id string) int64 { return last[id] }

	got := coop.SortByActivity([]coop.Subscription{a, b, c, d, hidden}, lastMessage)

	topicURLs := make([]string, len(got))
	for i, s := range got {
		topicURLs[i] = s.TopicURL()
	}
	want := []string{
		"https://b.example/alpha",
		"https://a.example/news",
		"https://a.example/zeta",
		"https://a.example/alpha",
	}
	if diff := cmp.Diff(want, topicURLs); diff != "" {
		t.Errorf("SortByActivity() mismatch (-want +got):\n%s", diff)
	}
}

func TestSortByActivity_Empty(t *testing.T) {
	got := coop.SortByActivity(nil, func(string) int64 { return 0 })
	if got == nil || len(got) != 0 {
		t.Errorf("SortByActivity(nil) = %#v, want an empty slice", got)
	}
}

func TestGroupByDay(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	at := func(id, ts string) coop.Notification {
		tm, err := time.ParseInLocation(time.DateTime, ts, loc)
		if err != nil {
			t.Fatal(err)
		}
		return coop.Notification{ID: id, Event: coop.EventMessage, Time: tm.Unix()}
	}
	ns := []coop.Notification{
		at("m1", "2024-03-01 09:00:00"),
		at("m2", "2024-03-01 23:59:59"),
		at("m3", "2024-03-02 00:00:00"),
		at("m4", "2024-03-05 12:00:00"),
	}

	days := coop.GroupByDay(ns, loc)

	type day struct {
		Date string
		IDs  []string
	}
	got := make([]day, len(days))
	for i, d := range days {
		got[i] = day{Date: d.Date.Format(time.DateOnly), IDs: ids(d.Notifications)}
	}
	want := []day{
		{Date: "2024-03-01", IDs: []string{"m1", "m2"}},
		{Date: "2024-03-02", IDs: []string{"m3"}},
		{Date: "2024-03-05", IDs: []string{"m4"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("GroupByDay() mismatch (-want +got):\n%s", diff)
	}

	if days := coop.GroupByDay(nil, loc); len(days) != 0 {
		t.Errorf("GroupByDay(nil) = %v, want none", days)
	}
}
