package redis

import (
	"context"
	"sort"
	"strconv"

	"github.com/goodtune/keytrack/internal/storage"
	"github.com/redis/go-redis/v9"
)

var incrementCounters = redis.NewScript(incrementCountersScript)

type statsStore struct {
	client     *redis.Client
	ttlSeconds int64
}

func (s *statsStore) increment(ctx context.Context, keys []string, member, date string, fields []interface{}) error {
	score, err := dateScore(date)
	if err != nil {
		return err
	}
	args := append([]interface{}{member, date, score, s.ttlSeconds}, fields...)
	return classify(incrementCounters.Run(ctx, s.client, keys, args...).Err())
}

// AddDaily atomically increments (or creates) the date's totals
func (s *statsStore) AddDaily(ctx context.Context, row storage.DailyRow) error {
	keys := []string{dailyKey(row.Date), dailyKey(row.Date), datesKey}
	fields := append([]interface{}{"date", "s", row.Date}, counterArgs(row.Counters)...)
	return s.increment(ctx, keys, "", row.Date, fields)
}

// AddHourly atomically increments (or creates) one hourly bucket
func (s *statsStore) AddHourly(ctx context.Context, row storage.HourlyRow) error {
	keys := []string{hourlyKey(row.Date, row.Hour), hourlyIndexKey(row.Date), datesKey}
	fields := append([]interface{}{"date", "s", row.Date, "hour", "s", row.Hour}, counterArgs(row.Counters)...)
	return s.increment(ctx, keys, strconv.Itoa(row.Hour), row.Date, fields)
}

// AddNotes increments each distribution entry. Each entry is atomic on
// its own; the batch is not.
func (s *statsStore) AddNotes(ctx context.Context, rows []storage.NoteRow) error {
	for _, r := range rows {
		keys := []string{noteKey(r.Date, r.Note), notesIndexKey(r.Date), datesKey}
		fields := append([]interface{}{"date", "s", r.Date, "note", "s", r.Note}, noteCounterArgs(r.NoteCounters)...)
		if err := s.increment(ctx, keys, strconv.Itoa(r.Note), r.Date, fields); err != nil {
			return err
		}
	}
	return nil
}

// GetDaily retrieves the totals for a date
func (s *statsStore) GetDaily(ctx context.Context, date string) (*storage.DailyRow, error) {
	data, err := s.client.HGetAll(ctx, dailyKey(date)).Result()
	if err != nil {
		return nil, err
	}

	c, err := parseCounters(data)
	if err != nil {
		return nil, err
	}
	return &storage.DailyRow{Date: date, Counters: c}, nil
}

// ListDaily returns the daily rows in [from, to], oldest first
func (s *statsStore) ListDaily(ctx context.Context, from, to string) ([]storage.DailyRow, error) {
	lo, err := dateScore(from)
	if err != nil {
		return nil, err
	}
	hi, err := dateScore(to)
	if err != nil {
		return nil, err
	}

	dates, err := s.client.ZRangeByScore(ctx, datesKey, &redis.ZRangeBy{
		Min: strconv.FormatInt(lo, 10),
		Max: strconv.FormatInt(hi, 10),
	}).Result()
	if err != nil {
		return nil, err
	}

	if len(dates) == 0 {
		return []storage.DailyRow{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(dates))
	for i, date := range dates {
		cmds[i] = pipe.HGetAll(ctx, dailyKey(date))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	rows := make([]storage.DailyRow, 0, len(dates))
	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		c, err := parseCounters(data)
		if err == nil {
			rows = append(rows, storage.DailyRow{Date: dates[i], Counters: c})
		}
	}

	return rows, nil
}

// ListHourly returns every stored hour of a date, in hour order
func (s *statsStore) ListHourly(ctx context.Context, date string) ([]storage.HourlyRow, error) {
	members, err := s.client.SMembers(ctx, hourlyIndexKey(date)).Result()
	if err != nil {
		return nil, err
	}

	hours := make([]int, 0, len(members))
	for _, m := range members {
		if h, err := strconv.Atoi(m); err == nil {
			hours = append(hours, h)
		}
	}
	sort.Ints(hours)

	if len(hours) == 0 {
		return []storage.HourlyRow{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(hours))
	for i, h := range hours {
		cmds[i] = pipe.HGetAll(ctx, hourlyKey(date, h))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	rows := make([]storage.HourlyRow, 0, len(hours))
	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		c, err := parseCounters(data)
		if err == nil {
			rows = append(rows, storage.HourlyRow{Date: date, Hour: hours[i], Counters: c})
		}
	}

	return rows, nil
}

// ListNotes returns the distribution for a date, sentinel ids first
func (s *statsStore) ListNotes(ctx context.Context, date string) ([]storage.NoteRow, error) {
	members, err := s.client.SMembers(ctx, notesIndexKey(date)).Result()
	if err != nil {
		return nil, err
	}

	notes := make([]int, 0, len(members))
	for _, m := range members {
		if n, err := strconv.Atoi(m); err == nil {
			notes = append(notes, n)
		}
	}
	sort.Ints(notes)

	if len(notes) == 0 {
		return []storage.NoteRow{}, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(notes))
	for i, n := range notes {
		cmds[i] = pipe.HGetAll(ctx, noteKey(date, n))
	}

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	rows := make([]storage.NoteRow, 0, len(notes))
	for i, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		nc, err := parseNoteCounters(data)
		if err == nil {
			rows = append(rows, storage.NoteRow{Date: date, Note: notes[i], NoteCounters: nc})
		}
	}

	return rows, nil
}

// DeleteBefore removes every key belonging to dates before cutoffDate
func (s *statsStore) DeleteBefore(ctx context.Context, cutoffDate string) (int, error) {
	cutoff, err := dateScore(cutoffDate)
	if err != nil {
		return 0, err
	}

	dates, err := s.client.ZRangeByScore(ctx, datesKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff, 10),
	}).Result()
	if err != nil {
		return 0, err
	}

	deletedCount := 0
	for _, date := range dates {
		keys := []string{dailyKey(date), hourlyIndexKey(date), notesIndexKey(date)}

		hours, err := s.client.SMembers(ctx, hourlyIndexKey(date)).Result()
		if err != nil {
			return deletedCount, err
		}
		for _, h := range hours {
			keys = append(keys, "keytrack:hourly:"+date+":"+h)
		}

		notes, err := s.client.SMembers(ctx, notesIndexKey(date)).Result()
		if err != nil {
			return deletedCount, err
		}
		for _, n := range notes {
			keys = append(keys, "keytrack:note:"+date+":"+n)
		}

		deleted, err := s.client.Del(ctx, keys...).Result()
		if err != nil {
			return deletedCount, classify(err)
		}
		deletedCount += int(deleted)

		if err := s.client.ZRem(ctx, datesKey, date).Err(); err != nil {
			return deletedCount, err
		}
	}

	return deletedCount, nil
}
