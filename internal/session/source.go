package session

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goodtune/drift/internal/storage"
)

// StaticSource serves a fixed per-phase candidate list. Each Candidates
// call restarts iteration from the top, mirroring how a live discovery feed
// behaves after a reset.
type StaticSource struct {
	byPhase map[string][]Candidate
	global  []Candidate
}

// NewStaticSource creates a source over the given per-phase candidates.
func NewStaticSource(byPhase map[string][]Candidate) *StaticSource {
	return &StaticSource{byPhase: byPhase}
}

// LoadCandidateFile reads a candidate list in "phase<TAB-or-space>target_id"
// line format. Blank lines and lines starting with # are ignored; a line
// with no phase column assigns the target to every phase requested later.
func LoadCandidateFile(path string) (*StaticSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open candidate file: %w", err)
	}
	defer f.Close()

	byPhase := make(map[string][]Candidate)
	var global []Candidate

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		switch len(fields) {
		case 1:
			global = append(global, Candidate{TargetID: fields[0]})
		case 2:
			byPhase[fields[0]] = append(byPhase[fields[0]], Candidate{TargetID: fields[1]})
		default:
			return nil, fmt.Errorf("candidate file line %d: expected 1 or 2 columns, got %d", line, len(fields))
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read candidate file: %w", err)
	}

	source := &StaticSource{byPhase: byPhase}
	if len(global) > 0 {
		source.global = global
	}
	return source, nil
}

type staticIterator struct {
	candidates []Candidate
	index      int
}

func (s *StaticSource) Candidates(ctx context.Context, phase string) (CandidateIterator, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	candidates := s.byPhase[phase]
	if len(candidates) == 0 {
		candidates = s.global
	}
	return &staticIterator{candidates: candidates}, nil
}

func (it *staticIterator) Next(ctx context.Context) (*Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if it.index >= len(it.candidates) {
		return nil, nil
	}
	candidate := it.candidates[it.index]
	it.index++
	return &candidate, nil
}

// NoopExecutor reports success for every attempt without any remote effect.
// It backs dry-run style invocations where only the scheduling behavior is
// being exercised.
type NoopExecutor struct{}

func (NoopExecutor) Attempt(ctx context.Context, kind storage.ActionKind, targetID string) (AttemptResult, error) {
	if err := ctx.Err(); err != nil {
		return AttemptResult{}, err
	}
	return AttemptResult{Success: true}, nil
}
