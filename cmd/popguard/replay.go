package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/popguard/internal/decision"
	"github.com/fyrsmithlabs/popguard/internal/engine"
	"github.com/fyrsmithlabs/popguard/internal/extraction"
	"github.com/fyrsmithlabs/popguard/internal/popup"
	"github.com/fyrsmithlabs/popguard/internal/store"
)

const maxReplayLine = 1 << 20

// Replay operations.
const (
	opDetect         = "detect"
	opDecide         = "decide"
	opVisibility     = "visibility"
	opCloseTab       = "close_tab"
	opMemoryPressure = "memory_pressure"
	opMaintenance    = "maintenance"
	opAdvance        = "advance"
)

// replayStep is one line of a replay script.
type replayStep struct {
	Op        string               `json:"op"`
	Tab       string               `json:"tab,omitempty"`
	PopupID   string               `json:"popup_id,omitempty"`
	Element   *extraction.Snapshot `json:"element,omitempty"`
	Decision  string               `json:"decision,omitempty"`
	Visible   *bool                `json:"visible,omitempty"`
	AdvanceMs int                  `json:"advance_ms,omitempty"`
}

type replayError struct {
	Line  int    `json:"line"`
	Op    string `json:"op,omitempty"`
	Error string `json:"error"`
}

// replaySummary is printed after a replay.
type replaySummary struct {
	Steps     int                      `json:"steps"`
	Admitted  int                      `json:"admitted"`
	Throttled int                      `json:"throttled"`
	Outcomes  map[decision.Outcome]int `json:"outcomes"`
	Resolved  int                      `json:"resolved"`
	Evicted   int                      `json:"evicted"`
	Unsettled int                      `json:"unsettled"`
	History   int                      `json:"history"`
	Decisions int                      `json:"decisions"`
	Patterns  []popup.Pattern          `json:"patterns"`
	Errors    []replayError            `json:"errors,omitempty"`
}

func newReplayCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <file>",
		Short: "Replay a JSONL detection script through an in-memory engine",
		Long: `Replay feeds a JSONL script through an in-memory engine built from the
engine configuration and prints a JSON summary. Nothing is persisted.

Each line is an object with an "op" of detect, decide, visibility, close_tab,
memory_pressure, maintenance or advance. Blank lines and lines starting with
# are skipped. Use - to read stdin.

Example:
  {"op":"detect","tab":"t1","popup_id":"p1","element":{"url":"https://example.com/","style":{"position":"fixed"}}}
  {"op":"decide","tab":"t1","popup_id":"p1","decision":"close"}
  {"op":"advance","advance_ms":60000}`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return err
			}

			in := cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open script: %w", err)
				}
				defer f.Close()
				in = f
			}

			summary, err := replay(cmd.Context(), in, engineConfig(cfg), zap.NewNop())
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), summary)
		},
	}
}

// replayClock is advanced only by advance steps.
type replayClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *replayClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *replayClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// replay runs the script in r. Malformed lines and rejected steps are
// reported in the summary and do not stop the run.
func replay(ctx context.Context, r io.Reader, cfg engine.Config, logger *zap.Logger) (*replaySummary, error) {
	clock := &replayClock{now: time.Now().UTC().Truncate(time.Second)}
	eng, err := engine.New(cfg,
		engine.WithStore(store.NewMemoryStore()),
		engine.WithLogger(logger),
		engine.WithClock(clock.Now),
		engine.WithMemorySampler(func() uint64 { return 0 }))
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}
	if err := eng.Start(ctx); err != nil {
		return nil, err
	}

	sum := &replaySummary{Outcomes: make(map[decision.Outcome]int)}
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxReplayLine)
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 || raw[0] == '#' {
			continue
		}
		var step replayStep
		if err := json.Unmarshal(raw, &step); err != nil {
			sum.Errors = append(sum.Errors, replayError{Line: line, Error: err.Error()})
			continue
		}
		sum.Steps++
		if err := runStep(ctx, eng, clock, step, sum); err != nil {
			sum.Errors = append(sum.Errors, replayError{Line: line, Op: step.Op, Error: err.Error()})
		}
	}
	if err := scanner.Err(); err != nil {
		_ = eng.Close(ctx)
		return nil, fmt.Errorf("failed to read script: %w", err)
	}

	for _, tab := range eng.Tabs() {
		pending, _ := eng.Pending(tab)
		sum.Unsettled += len(pending)
	}
	if err := eng.Close(ctx); err != nil {
		return nil, err
	}

	sum.History = len(eng.History())
	sum.Decisions = len(eng.Decisions())
	sum.Patterns = eng.Patterns()
	sort.Slice(sum.Patterns, func(i, j int) bool { return sum.Patterns[i].ID < sum.Patterns[j].ID })
	return sum, nil
}

func runStep(ctx context.Context, eng *engine.Engine, clock *replayClock, step replayStep, sum *replaySummary) error {
	switch step.Op {
	case opDetect:
		if step.Element == nil {
			return fmt.Errorf("detect needs an element")
		}
		res, err := eng.HandleDetection(ctx, step.Tab, engine.Detection{PopupID: step.PopupID, Element: step.Element})
		if err != nil {
			return err
		}
		if !res.Verdict.Admitted {
			sum.Throttled++
			return nil
		}
		sum.Admitted++
		sum.Outcomes[res.Outcome]++
	case opDecide:
		d, err := popup.ParseDecision(step.Decision)
		if err != nil {
			return err
		}
		if _, err := eng.Decide(ctx, step.Tab, step.PopupID, d); err != nil {
			return err
		}
		sum.Resolved++
	case opVisibility:
		if step.Visible == nil {
			return fmt.Errorf("visibility needs visible")
		}
		return eng.SetVisible(step.Tab, *step.Visible)
	case opCloseTab:
		return eng.CloseTab(ctx, step.Tab)
	case opMemoryPressure:
		sum.Evicted += eng.ReportMemoryPressure(ctx)
	case opMaintenance:
		eng.RunMaintenance(ctx)
	case opAdvance:
		if step.AdvanceMs < 0 {
			return fmt.Errorf("advance_ms must not be negative")
		}
		clock.Advance(time.Duration(step.AdvanceMs) * time.Millisecond)
	default:
		return fmt.Errorf("unknown op %q", step.Op)
	}
	return nil
}
