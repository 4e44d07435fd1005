// Package logtail follows append-only text logs the way the render log
// endpoints need: drain what is already there, then poll for appended
// lines until the caller goes away.
package logtail

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"
	"time"
)

// DefaultInterval is how long the follower sleeps between polls once it has
// drained the file.
const DefaultInterval = 100 * time.Millisecond

// Follower tails a single log file. Each Follow call is an independent pass
// over the file from the beginning; a line is delivered at most once per
// call, and only once its trailing newline has been written.
type Follower struct {
	Path     string
	Interval time.Duration

	// WaitForFile makes Follow poll until the file appears instead of
	// failing when it does not exist yet.
	WaitForFile bool
}

func New(path string) *Follower {
	return &Follower{Path: path, Interval: DefaultInterval}
}

// Follow streams lines to fn until ctx is cancelled or fn returns an error
// (which is passed back to the caller). It never returns on its own once
// the file exists: after draining it keeps polling for appended content.
func (f *Follower) Follow(ctx context.Context, fn func(line string) error) error {
	interval := f.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}

	file, err := f.open(ctx, interval)
	if err != nil {
		return err
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	var partial strings.Builder
	for {
		chunk, err := reader.ReadString('\n')
		partial.WriteString(chunk)
		if err == nil {
			line := partial.String()
			partial.Reset()
			if err := fn(line); err != nil {
				return err
			}
			continue
		}
		if err != io.EOF {
			return err
		}
		// Mid-line writes stay buffered in partial until the newline lands.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

func (f *Follower) open(ctx context.Context, interval time.Duration) (*os.File, error) {
	for {
		file, err := os.Open(f.Path)
		if err == nil {
			return file, nil
		}
		if !f.WaitForFile || !os.IsNotExist(err) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}
