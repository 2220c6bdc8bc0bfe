package schedule

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tod(s string) *TimeOfDay {
	t := MustTimeOfDay(s)
	return &t
}

func TestParseTimeOfDay(t *testing.T) {
	cases := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "09:00", want: "09:00"},
		{in: "17:30:00", want: "17:30"},
		{in: " 7:05", want: "07:05"},
		{in: "24:00", wantErr: true},
		{in: "12:00:30", wantErr: true},
		{in: "noon", wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.in, func(t *testing.T) {
			got, err := ParseTimeOfDay(tc.in)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTimeOfDay)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got.String())
		})
	}
}

func TestTimeOfDayJSON(t *testing.T) {
	var v struct {
		At TimeOfDay `json:"at"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"at":"13:45"}`), &v))
	assert.Equal(t, 13, v.At.Hour())
	assert.Equal(t, 45, v.At.Minute())

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"at":"13:45"}`, string(out))
}

func TestOverlapsHalfOpen(t *testing.T) {
	base := time.Date(2030, 3, 4, 9, 0, 0, 0, time.UTC)
	at := func(min int) time.Time { return base.Add(time.Duration(min) * time.Minute) }

	assert.True(t, Overlaps(at(0), at(30), at(15), at(45)))
	assert.True(t, Overlaps(at(0), at(60), at(15), at(30)), "containment overlaps")
	assert.False(t, Overlaps(at(0), at(30), at(30), at(60)), "back-to-back does not overlap")
	assert.False(t, Overlaps(at(30), at(60), at(0), at(30)))

	assert.True(t, Span{Start: 0, End: 30}.Overlaps(Span{Start: 29, End: 31}))
	assert.False(t, Span{Start: 0, End: 30}.Overlaps(Span{Start: 30, End: 31}))
}

func TestWeekdayOf(t *testing.T) {
	// 2030-03-04 is a Monday.
	mon := time.Date(2030, 3, 4, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, Monday, WeekdayOf(mon))
	assert.Equal(t, Sunday, WeekdayOf(mon.AddDate(0, 0, 6)))
	assert.Equal(t, "Tuesday", WeekdayOf(mon.AddDate(0, 0, 1)).String())
}

func TestToLocalCrossesDate(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// 02:30 UTC on a Tuesday is 22:30 Monday in New York (EDT, UTC-4).
	ts := time.Date(2030, 6, 4, 2, 30, 0, 0, time.UTC)
	l := ToLocal(ts, ny)
	assert.Equal(t, Monday, l.Weekday)
	assert.Equal(t, "22:30", l.Time.String())
	assert.Equal(t, time.Date(2030, 6, 3, 0, 0, 0, 0, time.UTC), l.Date)
}

func TestDayWindowAcrossDST(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	// Spring forward: 2030-03-10 has 23 hours in New York.
	start, end := DayWindow(time.Date(2030, 3, 10, 0, 0, 0, 0, time.UTC), ny)
	assert.Equal(t, 23*time.Hour, end.Sub(start))
	assert.Equal(t, time.UTC, start.Location())
}

func TestWallSpanClampsToDate(t *testing.T) {
	date := time.Date(2030, 3, 4, 0, 0, 0, 0, time.UTC)
	s := WallSpan(
		time.Date(2030, 3, 4, 23, 30, 0, 0, time.UTC),
		time.Date(2030, 3, 5, 0, 30, 0, 0, time.UTC),
		date, time.UTC)
	assert.Equal(t, MustTimeOfDay("23:30"), s.Start)
	assert.Equal(t, TimeOfDay(24*60), s.End)
}

func TestWeeklySlotValidate(t *testing.T) {
	valid := WeeklySlot{Day: Monday, Start: MustTimeOfDay("09:00"), End: MustTimeOfDay("17:00"),
		BreakStart: tod("12:00"), BreakEnd: tod("13:00")}
	require.NoError(t, valid.Validate())

	cases := map[string]WeeklySlot{
		"bad day":           {Day: 7, Start: 0, End: 60},
		"end before start":  {Day: Monday, Start: MustTimeOfDay("10:00"), End: MustTimeOfDay("09:00")},
		"zero length":       {Day: Monday, Start: MustTimeOfDay("10:00"), End: MustTimeOfDay("10:00")},
		"only break start":  {Day: Monday, Start: 0, End: 600, BreakStart: tod("05:00")},
		"only break end":    {Day: Monday, Start: 0, End: 600, BreakEnd: tod("05:00")},
		"inverted break":    {Day: Monday, Start: 0, End: 600, BreakStart: tod("06:00"), BreakEnd: tod("05:00")},
		"break outside day": {Day: Monday, Start: MustTimeOfDay("09:00"), End: MustTimeOfDay("12:00"), BreakStart: tod("11:30"), BreakEnd: tod("12:30")},
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			assert.ErrorIs(t, s.Validate(), ErrInvalidSlot)
		})
	}
}

func TestWeeklySlotAdmitsBoundaries(t *testing.T) {
	s := WeeklySlot{Day: Monday, Start: MustTimeOfDay("09:00"), End: MustTimeOfDay("17:00"),
		BreakStart: tod("12:00"), BreakEnd: tod("13:00")}
	span := func(a, b string) Span { return Span{Start: MustTimeOfDay(a), End: MustTimeOfDay(b)} }

	assert.True(t, s.Admits(span("11:00", "12:00")), "ending at break start")
	assert.True(t, s.Admits(span("13:00", "14:00")), "starting at break end")
	assert.True(t, s.Admits(span("16:00", "17:00")), "ending at closing time")
	assert.False(t, s.Admits(span("11:30", "12:15")))
	assert.False(t, s.Admits(span("16:30", "17:01")))
	assert.False(t, s.Admits(span("08:59", "09:30")))
}

func TestDedupeByDayLastWins(t *testing.T) {
	in := []WeeklySlot{
		{Day: Wednesday, Start: 60, End: 120},
		{Day: Monday, Start: 60, End: 120},
		{Day: Wednesday, Start: 600, End: 700},
	}
	out := DedupeByDay(in)
	require.Len(t, out, 2)
	assert.Equal(t, Monday, out[0].Day)
	assert.Equal(t, Wednesday, out[1].Day)
	assert.Equal(t, TimeOfDay(600), out[1].Start)
}

func TestUnavailabilityCovers(t *testing.T) {
	p := UnavailabilityPeriod{
		StartDate: time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		EndDate:   time.Date(2025, 7, 5, 0, 0, 0, 0, time.UTC),
	}
	require.NoError(t, p.Validate())
	assert.True(t, p.Covers(time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)))
	assert.True(t, p.Covers(time.Date(2025, 7, 3, 15, 0, 0, 0, time.UTC)))
	assert.True(t, p.Covers(time.Date(2025, 7, 5, 23, 59, 0, 0, time.UTC)))
	assert.False(t, p.Covers(time.Date(2025, 7, 6, 0, 0, 0, 0, time.UTC)))
	assert.False(t, p.Covers(time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)))

	p.EndDate = time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC)
	assert.ErrorIs(t, p.Validate(), ErrInvalidPeriod)
}

func TestGrid(t *testing.T) {
	w := Span{Start: MustTimeOfDay("09:00"), End: MustTimeOfDay("12:00")}
	var starts []string
	for _, s := range Grid(w, 60) {
		starts = append(starts, s.Start.String())
	}
	assert.Equal(t, []string{"09:00", "10:00", "11:00"}, starts)

	assert.Len(t, Grid(w, 45), 4, "09:00 09:45 10:30 11:15; 12:00 would end at 12:45")
	assert.Nil(t, Grid(w, 0))
}
