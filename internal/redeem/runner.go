package redeem

import (
	"context"
	"io"

	"github.com/charmbracelet/log"

	"github.com/nhle/redeemer/internal/model"
)

// SectionProcessor processes a single mailbox section.
type SectionProcessor interface {
	ProcessSection(ctx context.Context, sec model.MailboxSection) (SectionResult, error)
}

// Runner processes configured sections strictly one after another. Every
// section gets its own transport session; a failing section is logged and
// the next one still runs.
type Runner struct {
	Processor SectionProcessor
	Log       *log.Logger
}

// Run processes sections in order and returns one result per section.
func (r *Runner) Run(ctx context.Context, sections []model.MailboxSection) []SectionResult {
	logger := r.Log
	if logger == nil {
		logger = log.New(io.Discard)
	}
	results := make([]SectionResult, 0, len(sections))

	for _, sec := range sections {
		logger.Info("processing section", "section", sec.Name)

		res, err := r.Processor.ProcessSection(ctx, sec)
		if err != nil {
			stage, _ := StageOf(err)
			logger.Warn(
				"section aborted",
				"section", sec.Name,
				"stage", stage,
				"error", err,
			)
			res.Err = err
		}
		results = append(results, res)
	}

	return results
}

// Failed counts aborted sections.
func Failed(results []SectionResult) int {
	n := 0
	for _, res := range results {
		if res.Err != nil {
			n++
		}
	}
	return n
}
