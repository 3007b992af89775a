package capture

import (
	"context"
	"fmt"
	"time"

	"github.com/cjeanneret/SpinGo/internal/debug"
	"github.com/cjeanneret/SpinGo/internal/hw/turntable"
	"github.com/google/uuid"
)

// Turntable is the command set a capture run needs from a connected session.
type Turntable interface {
	SetNumberOfShots(n int) error
	Rotate() (turntable.Response, error)
	Focus() (turntable.Response, error)
	Shoot(n int) (turntable.Response, error)
}

// Sequence contains the high-level logic of a capture run.
type Sequence struct {
	table Turntable
}

func NewSequence(t Turntable) *Sequence {
	return &Sequence{table: t}
}

// Params defines one capture run.
type Params struct {
	ShotsPerRound int           // announced once with NUM_SHOTS
	Exposure      int           // SHOOT argument
	Rounds        int           // ROTATE/FOCUS/SHOOT cycles
	RoundDelay    time.Duration // pause between rounds
}

// Ack is one acknowledgment observed during a run.
type Ack struct {
	Round int
	Verb  turntable.Verb
	Text  string
	Empty bool
}

// Report summarizes a run. It is returned even when the run stops early.
type Report struct {
	RunID     uuid.UUID
	Rounds    int // completed rounds
	Acks      []Ack
	Anomalies int // acknowledgments that never arrived
}

// Validate checks that p describes a run the firmware accepts.
func (p Params) Validate() error {
	if p.ShotsPerRound < 0 {
		return fmt.Errorf("shots per round must be >= 0, got %d", p.ShotsPerRound)
	}
	if p.Rounds < 1 {
		return fmt.Errorf("rounds must be >= 1, got %d", p.Rounds)
	}
	if p.RoundDelay < 0 {
		return fmt.Errorf("round delay must be >= 0, got %v", p.RoundDelay)
	}
	return nil
}

// Run announces the shot count, then for every round rotates the platter,
// focuses and shoots. Missing acknowledgments are counted, not retried;
// transport errors stop the run. ctx is checked before every command.
func (s *Sequence) Run(ctx context.Context, p Params) (*Report, error) {
	report := &Report{RunID: uuid.New()}
	if err := p.Validate(); err != nil {
		return report, err
	}

	debug.Section("Capture run " + report.RunID.String())
	debug.PrintStruct("Capture params", p)

	if err := ctx.Err(); err != nil {
		return report, err
	}
	if err := s.table.SetNumberOfShots(p.ShotsPerRound); err != nil {
		return report, err
	}

	steps := []struct {
		verb turntable.Verb
		do   func() (turntable.Response, error)
	}{
		{turntable.VerbRotate, s.table.Rotate},
		{turntable.VerbFocus, s.table.Focus},
		{turntable.VerbShoot, func() (turntable.Response, error) { return s.table.Shoot(p.Exposure) }},
	}

	for round := 1; round <= p.Rounds; round++ {
		debug.Round(round, p.Rounds)

		for _, step := range steps {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			resp, err := step.do()
			if err != nil {
				return report, fmt.Errorf("round %d: %w", round, err)
			}
			report.record(round, step.verb, resp)
		}
		report.Rounds = round

		if round < p.Rounds && p.RoundDelay > 0 {
			select {
			case <-ctx.Done():
				return report, ctx.Err()
			case <-time.After(p.RoundDelay):
			}
		}
	}

	debug.Run(report.RunID.String(), report.Rounds, report.Anomalies)
	return report, nil
}

func (r *Report) record(round int, verb turntable.Verb, resp turntable.Response) {
	ack := Ack{Round: round, Verb: verb, Text: resp.Text(), Empty: resp.Empty()}
	r.Acks = append(r.Acks, ack)
	switch {
	case ack.Empty:
		r.Anomalies++
		debug.Info("Round %d: no acknowledgment for %s", round, verb)
	case !resp.Matches(verb):
		debug.Verbose("Round %d: %s acknowledged with %q", round, verb, ack.Text)
	}
}
