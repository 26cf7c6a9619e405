package midiin

import (
	"bufio"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gitlab.com/gomidi/midi/v2/smf"
)

// Message is one recorded message and its offset from the start of the
// recording.
type Message struct {
	Offset time.Duration
	Data   []byte
}

// ReplayOptions controls replay pacing.
type ReplayOptions struct {
	// Start is the timestamp given to offset zero.
	Start time.Time
	// Speed scales playback; 1 is real time. Zero or less replays as fast
	// as possible while keeping the recorded timestamps.
	Speed float64
}

// ReadFile loads the playable messages of a standard MIDI file, all
// tracks merged in time order.
func ReadFile(path string) ([]Message, error) {
	tr := smf.ReadTracks(path)
	if err := tr.Error(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var msgs []Message
	tr.Do(func(te smf.TrackEvent) {
		if !te.Message.IsPlayable() {
			return
		}
		msgs = append(msgs, Message{
			Offset: time.Duration(te.AbsMicroSeconds) * time.Microsecond,
			Data:   append([]byte(nil), te.Message...),
		})
	})
	if err := tr.Error(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	sort.SliceStable(msgs, func(i, j int) bool { return msgs[i].Offset < msgs[j].Offset })
	return msgs, nil
}

// ParseHex reads a hex dump with one message per line. A line may start
// with a millisecond offset followed by a colon:
//
//	0: 90 3c 64
//	250: 80 3c 00
//
// Lines without an offset follow the previous one. Blank lines and lines
// starting with '#' are skipped.
func ParseHex(r io.Reader) ([]Message, error) {
	var (
		msgs   []Message
		offset time.Duration
		lineNo int
	)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		if ts, rest, ok := strings.Cut(line, ":"); ok {
			ms, err := strconv.ParseInt(strings.TrimSpace(ts), 10, 64)
			if err != nil || ms < 0 {
				return nil, fmt.Errorf("line %d: invalid offset %q", lineNo, ts)
			}
			offset = time.Duration(ms) * time.Millisecond
			line = rest
		}

		data, err := hex.DecodeString(strings.Join(strings.Fields(line), ""))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if len(data) == 0 {
			continue
		}
		msgs = append(msgs, Message{Offset: offset, Data: data})
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return msgs, nil
}

// ReadHexFile loads a hex dump from path.
func ReadHexFile(path string) ([]Message, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ParseHex(f)
}

// Load reads a recording, choosing the format by file extension.
func Load(path string) ([]Message, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".mid", ".midi", ".smf":
		return ReadFile(path)
	default:
		return ReadHexFile(path)
	}
}

// Replay dispatches msgs in order. Each message is stamped with
// opts.Start plus its recorded offset; with a positive Speed the call
// also waits out the gaps. It returns the number of messages dispatched.
func Replay(ctx context.Context, msgs []Message, sink Dispatcher, opts ReplayOptions) (int, error) {
	if opts.Start.IsZero() {
		opts.Start = time.Now()
	}

	begin := time.Now()
	for i, m := range msgs {
		if opts.Speed > 0 {
			due := begin.Add(time.Duration(float64(m.Offset) / opts.Speed))
			if wait := time.Until(due); wait > 0 {
				timer := time.NewTimer(wait)
				select {
				case <-ctx.Done():
					timer.Stop()
					return i, ctx.Err()
				case <-timer.C:
				}
			}
		} else if err := ctx.Err(); err != nil {
			return i, err
		}

		sink.Dispatch(m.Data, opts.Start.Add(m.Offset))
	}
	return len(msgs), nil
}
