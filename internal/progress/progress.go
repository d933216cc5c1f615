// Package progress prints periodic object counts during an import run.
//
// A planet import processes billions of objects; without a heartbeat the
// operator cannot tell a slow run from a hung one. The reporter counts
// processed objects per kind and logs one summary line at a fixed interval,
// plus a final line on Stop.
package progress

import (
	"log"
	"sync/atomic"
	"time"

	"osmflex/internal/osm"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Options controls reporter configuration.
type Options struct {
	// Every controls how often a progress line is logged.
	// If <= 0, defaults to 10 seconds.
	Every time.Duration

	// Unexported test seams. Production code never sets them; unit tests
	// use them to capture output and avoid nondeterministic tickers.
	logf      func(format string, args ...any)
	newTicker func(d time.Duration) *time.Ticker
	now       func() time.Time
}

// Reporter counts processed objects and logs summaries.
//
// Concurrency:
//   - Add may be called from any goroutine (atomic counters).
//   - Start and Stop must be called once each, in that order, by the
//     goroutine that owns the run.
type Reporter struct {
	nodes     atomic.Int64
	ways      atomic.Int64
	relations atomic.Int64

	every   time.Duration
	printer *message.Printer

	logf      func(format string, args ...any)
	newTicker func(d time.Duration) *time.Ticker
	now       func() time.Time

	startedAt time.Time
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New constructs a reporter. It does not start logging; call Start.
func New(opts Options) *Reporter {
	every := opts.Every
	if every <= 0 {
		every = 10 * time.Second
	}

	logf := opts.logf
	if logf == nil {
		logf = log.Printf
	}
	newTicker := opts.newTicker
	if newTicker == nil {
		newTicker = time.NewTicker
	}
	nowFn := opts.now
	if nowFn == nil {
		nowFn = time.Now
	}

	return &Reporter{
		every: every,
		// English grouping gives "1,234,567"; raw %d is unreadable at
		// planet scale.
		printer: message.NewPrinter(language.English),

		logf:      logf,
		newTicker: newTicker,
		now:       nowFn,

		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Add records one processed object. Unknown kinds are ignored.
func (r *Reporter) Add(t osm.Type) {
	switch t {
	case osm.TypeNode:
		r.nodes.Add(1)
	case osm.TypeWay:
		r.ways.Add(1)
	case osm.TypeRelation:
		r.relations.Add(1)
	}
}

// Counts returns the current per-kind totals.
func (r *Reporter) Counts() (nodes, ways, relations int64) {
	return r.nodes.Load(), r.ways.Load(), r.relations.Load()
}

// Start launches the periodic logging goroutine.
func (r *Reporter) Start() {
	r.startedAt = r.now()
	go r.loop()
}

func (r *Reporter) loop() {
	defer close(r.doneCh)

	t := r.newTicker(r.every)
	defer t.Stop()

	for {
		select {
		case <-t.C:
			r.logf("Processing: Node(%s) Way(%s) Relation(%s)",
				r.group(r.nodes.Load()), r.group(r.ways.Load()), r.group(r.relations.Load()))
		case <-r.stopCh:
			return
		}
	}
}

// Stop ends periodic logging and prints the final totals.
//
// Edge cases:
//   - Must be called exactly once, after Start. Calling Stop twice panics
//     (stopCh is closed twice), like any "close once" resource.
func (r *Reporter) Stop() {
	close(r.stopCh)
	<-r.doneCh

	elapsed := r.now().Sub(r.startedAt).Round(time.Second)
	r.logf("Processed %s nodes, %s ways, %s relations in %s",
		r.group(r.nodes.Load()), r.group(r.ways.Load()), r.group(r.relations.Load()), elapsed)
}

func (r *Reporter) group(n int64) string {
	return r.printer.Sprintf("%d", n)
}
