// Package progress observes byte transfers without altering the data
// in transit. A Meter is scoped to a single transfer and discarded
// when the transfer ends.
package progress

import (
	"io"
	"time"

	"github.com/rs/zerolog"
)

// reportEvery throttles progress log lines on large transfers.
const reportEvery = 2 * time.Second

type Meter struct {
	log         zerolog.Logger
	label       string
	total       int64
	transferred int64
	started     time.Time
	reported    time.Time
}

// NewMeter starts tracking a transfer of total bytes. A negative total
// means the size is unknown (for example after encryption).
func NewMeter(log zerolog.Logger, label string, total int64) *Meter {
	now := time.Now()
	return &Meter{log: log, label: label, total: total, started: now, reported: now}
}

func (m *Meter) add(n int) {
	m.transferred += int64(n)
	now := time.Now()
	done := m.total >= 0 && m.transferred >= m.total
	if !done && now.Sub(m.reported) < reportEvery {
		return
	}
	m.reported = now
	ev := m.log.Debug().
		Str("transfer", m.label).
		Int64("bytes", m.transferred).
		Dur("elapsed", now.Sub(m.started))
	if m.total >= 0 {
		ev = ev.Int64("total", m.total)
	}
	ev.Msg("transfer progress")
}

// Transferred reports the bytes seen so far.
func (m *Meter) Transferred() int64 { return m.transferred }

// Reader wraps r so every read updates the meter.
func (m *Meter) Reader(r io.Reader) io.Reader {
	return &meterReader{r: r, m: m}
}

// Writer wraps w so every write updates the meter.
func (m *Meter) Writer(w io.Writer) io.Writer {
	return &meterWriter{w: w, m: m}
}

type meterReader struct {
	r io.Reader
	m *Meter
}

func (r *meterReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.m.add(n)
	}
	return n, err
}

type meterWriter struct {
	w io.Writer
	m *Meter
}

func (w *meterWriter) Write(p []byte) (int, error) {
	n, err := w.w.Write(p)
	if n > 0 {
		w.m.add(n)
	}
	return n, err
}
