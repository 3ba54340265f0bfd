package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/KOMKZ/go-yogan-pipebus/event"
)

type firstEvent struct {
	event.BaseEvent
}

type secondEvent struct {
	event.BaseEvent
}

// benchListener does a small allocation per call so the listener body is not free
type benchListener struct {
	calls int
}

func (l *benchListener) EventTargets() []event.Target {
	return []event.Target{
		{Method: "OnFirst"},
		{Method: "OnSecond"},
	}
}

func (l *benchListener) OnFirst(e *firstEvent) {
	l.work(e)
}

func (l *benchListener) OnSecond(e *secondEvent) {
	l.work(e)
}

func (l *benchListener) work(e event.Event) {
	m := make(map[string]string, 1)
	m[e.Name()] = "handled"
	l.calls += len(m)
}

// Round holds the mean publish cost over Calls publications
type Round struct {
	Calls  int
	First  time.Duration
	Second time.Duration
}

// Report is the result of one benchmark run
type Report struct {
	Register     time.Duration
	SingleFirst  time.Duration
	SingleSecond time.Duration
	Rounds       []Round
	Unregister   time.Duration
	Calls        int // listener invocations, for sanity checks
}

type bench struct {
	bus    *event.Bus
	rounds []int
}

func newBench(bus *event.Bus, rounds []int) *bench {
	return &bench{bus: bus, rounds: rounds}
}

func (b *bench) run(ctx context.Context) Report {
	var r Report
	listener := &benchListener{}

	start := time.Now()
	b.bus.Register(listener)
	r.Register = time.Since(start)

	r.SingleFirst = b.publish(ctx, 1, newFirst)
	r.SingleSecond = b.publish(ctx, 1, newSecond)

	for _, n := range b.rounds {
		r.Rounds = append(r.Rounds, Round{
			Calls:  n,
			First:  b.publish(ctx, n, newFirst),
			Second: b.publish(ctx, n, newSecond),
		})
	}

	start = time.Now()
	b.bus.Unregister(listener)
	r.Unregister = time.Since(start)

	r.Calls = listener.calls
	return r
}

// publish returns the mean duration of n publications
func (b *bench) publish(ctx context.Context, n int, newEvent func() event.Event) time.Duration {
	var total time.Duration
	for i := 0; i < n; i++ {
		e := newEvent()
		start := time.Now()
		b.bus.Publish(ctx, e)
		total += time.Since(start)
	}
	return total / time.Duration(n)
}

func newFirst() event.Event {
	return &firstEvent{BaseEvent: event.NewEvent("bench.first")}
}

func newSecond() event.Event {
	return &secondEvent{BaseEvent: event.NewEvent("bench.second")}
}

// Print writes the report in sections
func (r Report) Print(w io.Writer) error {
	var err error
	p := func(format string, args ...any) {
		if err == nil {
			_, err = fmt.Fprintf(w, format, args...)
		}
	}

	p("---------- register ----------\n")
	p("bus: %s\n\n", r.Register)

	p("---------- single call ----------\n")
	p("bus (first): %s\n", r.SingleFirst)
	p("bus (second): %s\n\n", r.SingleSecond)

	for _, round := range r.Rounds {
		p("---------- %d calls (mean) ----------\n", round.Calls)
		p("bus (first): %s\n", round.First)
		p("bus (second): %s\n\n", round.Second)
	}

	p("---------- unregister ----------\n")
	p("bus: %s\n", r.Unregister)
	return err
}
