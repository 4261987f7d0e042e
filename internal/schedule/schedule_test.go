package schedule

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

var ist = time.FixedZone("IST", 5*3600+1800)

func TestIsDueEverydayScenario(t *testing.T) {
	entries := []Entry{{Day: Everyday, Time: "09:00"}}
	now := time.Date(2026, 1, 24, 9, 15, 0, 0, ist)
	yesterday := now.AddDate(0, 0, -1)

	if !IsDue(entries, &yesterday, now, false) {
		t.Fatal("昨天已通知, 今天 09:15 应到期")
	}

	marked := now
	if IsDue(entries, &marked, now, false) {
		t.Fatal("标记 lastNotifiedAt=now 后不应再次到期")
	}
}

func TestIsDueTable(t *testing.T) {
	saturday := time.Date(2026, 1, 24, 18, 59, 0, 0, ist)
	earlier := saturday.Add(-10 * time.Hour)
	lastWeek := saturday.AddDate(0, 0, -7)

	tests := []struct {
		name    string
		entries []Entry
		last    *time.Time
		now     time.Time
		force   bool
		want    bool
	}{
		{"weekday match", []Entry{{Day: "Saturday", Time: "18:00"}}, nil, saturday, false, true},
		{"weekday case insensitive", []Entry{{Day: "saturday", Time: "18:30"}}, nil, saturday, false, true},
		{"other weekday", []Entry{{Day: "Monday", Time: "18:00"}}, nil, saturday, false, false},
		{"hour mismatch", []Entry{{Day: Everyday, Time: "17:59"}}, nil, saturday, false, false},
		{"any entry matches", []Entry{{Day: "Monday", Time: "18:00"}, {Day: Everyday, Time: "18:45"}}, nil, saturday, false, true},
		{"already sent today", []Entry{{Day: Everyday, Time: "18:00"}}, &earlier, saturday, false, false},
		{"sent last week", []Entry{{Day: Everyday, Time: "18:00"}}, &lastWeek, saturday, false, true},
		{"force ignores same day", []Entry{{Day: Everyday, Time: "18:00"}}, &earlier, saturday, true, true},
		{"force ignores schedule", nil, nil, saturday, true, true},
		{"no entries", nil, nil, saturday, false, false},
		{"malformed time", []Entry{{Day: Everyday, Time: "six"}}, nil, saturday, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsDue(tt.entries, tt.last, tt.now, tt.force); got != tt.want {
				t.Fatalf("期望 %v, 实际 %v", tt.want, got)
			}
		})
	}
}

func TestSameDayUsesNowLocation(t *testing.T) {
	// 2026-01-24 20:00 UTC is already 2026-01-25 in IST.
	last := time.Date(2026, 1, 24, 20, 0, 0, 0, time.UTC)
	now := time.Date(2026, 1, 25, 9, 0, 0, 0, ist)
	if !SameDay(last, now) {
		t.Fatal("应按 now 的时区比较日期")
	}
	if SameDay(last, now.AddDate(0, 0, 1)) {
		t.Fatal("不同日期不应相等")
	}
}

func TestEntryHour(t *testing.T) {
	cases := map[string]bool{"09:00": true, "9": true, "23:59": true, "24:00": false, "07:60": false, "": false, "x:10": false}
	for in, ok := range cases {
		if _, got := (Entry{Time: in}).Hour(); got != ok {
			t.Fatalf("%q: 期望 %v, 实际 %v", in, ok, got)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := Validate([]Entry{{Day: "Everyday", Time: "09:00"}, {Day: "monday", Time: "18:30"}}); err != nil {
		t.Fatalf("合法计划不应报错: %v", err)
	}
	if err := Validate([]Entry{{Day: "Someday", Time: "09:00"}}); err == nil {
		t.Fatal("未知日期应报错")
	}
	if err := Validate([]Entry{{Day: "Friday", Time: "25:00"}}); err == nil {
		t.Fatal("非法时间应报错")
	}
}

func TestIsDueIdempotent(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, ist)
	properties.Property("same inputs give same answer", prop.ForAll(
		func(nowOffset, lastOffset, hour int, day string, hasLast bool) bool {
			now := base.Add(time.Duration(nowOffset) * time.Minute)
			var last *time.Time
			if hasLast {
				l := now.Add(-time.Duration(lastOffset) * time.Minute)
				last = &l
			}
			entries := []Entry{{Day: day, Time: time.Date(0, 1, 1, hour, 0, 0, 0, time.UTC).Format("15:04")}}
			return IsDue(entries, last, now, false) == IsDue(entries, last, now, false)
		},
		gen.IntRange(0, 60*24*30),
		gen.IntRange(0, 60*24*3),
		gen.IntRange(0, 23),
		gen.OneConstOf(Everyday, "Monday", "Saturday"),
		gen.Bool(),
	))

	properties.Property("never due twice on one day", prop.ForAll(
		func(nowOffset, hour int) bool {
			now := base.Add(time.Duration(nowOffset) * time.Minute)
			entries := []Entry{{Day: Everyday, Time: time.Date(0, 1, 1, hour, 0, 0, 0, time.UTC).Format("15:04")}}
			if !IsDue(entries, nil, now, false) {
				return true
			}
			marked := now
			return !IsDue(entries, &marked, now, false)
		},
		gen.IntRange(0, 60*24*30),
		gen.IntRange(0, 23),
	))

	properties.TestingRun(t)
}
