// Package automaton compiles regular expressions into deterministic finite
// automata that can be persisted as bytes and evaluated without recompiling.
//
// Patterns use RE2 syntax as accepted by regexp/syntax with Perl flags.
// The automaton answers one question: does the pattern match anywhere in the
// input. Matching is performed over runes, so inputs must be valid UTF-8.
//
// Zero-width assertions are limited to beginning and end of text. Patterns that
// need line anchors or word boundaries are rejected with ErrUnsupported.
package automaton

import (
	"encoding/binary"
	"errors"
	"fmt"
	"regexp/syntax"
	"slices"
	"strings"
	"unicode"
)

// DefaultMaxStates bounds the number of states a single pattern may expand into.
const DefaultMaxStates = 10000

var (
	// ErrSyntax is returned for patterns that do not parse.
	ErrSyntax = errors.New("invalid pattern syntax")
	// ErrUnsupported is returned for constructs the automaton cannot express.
	ErrUnsupported = errors.New("unsupported pattern construct")
	// ErrTooLarge is returned when determinization exceeds the state ceiling.
	ErrTooLarge = errors.New("automaton exceeds state limit")
	// ErrInvalidUTF8 is returned by Match for malformed input.
	ErrInvalidUTF8 = errors.New("input is not valid UTF-8")
)

// Options controls compilation.
type Options struct {
	// Flags is the flags column of the corpus: letters i, s, m and U become
	// inline flags. Other letters are call-site flags and are ignored.
	Flags string
	// MaxStates overrides DefaultMaxStates when positive.
	MaxStates int
}

// DFA is a compiled automaton. It is immutable and safe for concurrent use.
type DFA struct {
	states []state
	start  int32
}

const dead int32 = -1

type state struct {
	// accept is terminal: once reached the input matches.
	accept bool
	// acceptAtEnd means the input matches if it ends in this state.
	acceptAtEnd bool
	trans       []transition
}

// transition covers runes lo..hi inclusive. Transitions of a state are sorted
// by lo and do not overlap.
type transition struct {
	lo, hi rune
	next   int32
}

// ApplyFlags prefixes pattern with the inline form of the supported letters in flags.
func ApplyFlags(pattern, flags string) string {
	var inline strings.Builder
	for _, f := range []byte{'i', 'm', 's', 'U'} {
		if strings.IndexByte(flags, f) >= 0 {
			inline.WriteByte(f)
		}
	}
	if inline.Len() == 0 {
		return pattern
	}
	return "(?" + inline.String() + ")" + pattern
}

// Compile builds the automaton for pattern.
func Compile(pattern string, opts Options) (*DFA, error) {
	expr := ApplyFlags(pattern, opts.Flags)

	re, err := syntax.Parse(expr, syntax.Perl)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyntax, err)
	}
	prog, err := syntax.Compile(re.Simplify())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSyntax, err)
	}
	if err := checkProg(prog); err != nil {
		return nil, err
	}

	maxStates := opts.MaxStates
	if maxStates <= 0 {
		maxStates = DefaultMaxStates
	}
	b := newBuilder(prog, maxStates)
	return b.build()
}

// checkProg rejects empty-width assertions other than text anchors.
func checkProg(prog *syntax.Prog) error {
	const allowed = syntax.EmptyBeginText | syntax.EmptyEndText
	for _, inst := range prog.Inst {
		if inst.Op != syntax.InstEmptyWidth {
			continue
		}
		if op := syntax.EmptyOp(inst.Arg); op&^allowed != 0 {
			return fmt.Errorf("%w: %s", ErrUnsupported, describeEmpty(op&^allowed))
		}
	}
	return nil
}

func describeEmpty(op syntax.EmptyOp) string {
	switch {
	case op&(syntax.EmptyBeginLine|syntax.EmptyEndLine) != 0:
		return "line anchor"
	case op&(syntax.EmptyWordBoundary|syntax.EmptyNoWordBoundary) != 0:
		return "word boundary"
	default:
		return fmt.Sprintf("empty-width op %#x", uint8(op))
	}
}

type builder struct {
	prog      *syntax.Prog
	maxStates int

	states  []state
	sets    [][]uint32
	index   map[string]int32
	pending []int32

	restart []uint32
	seen    []bool
}

func newBuilder(prog *syntax.Prog, maxStates int) *builder {
	return &builder{
		prog:      prog,
		maxStates: maxStates,
		index:     make(map[string]int32),
		seen:      make([]bool, len(prog.Inst)),
	}
}

func (b *builder) build() (*DFA, error) {
	b.restart = b.closure([]uint32{uint32(b.prog.Start)}, 0)

	start, err := b.intern(b.closure([]uint32{uint32(b.prog.Start)}, syntax.EmptyBeginText), true)
	if err != nil {
		return nil, err
	}

	for len(b.pending) > 0 {
		id := b.pending[len(b.pending)-1]
		b.pending = b.pending[:len(b.pending)-1]
		if b.states[id].accept {
			continue
		}
		trans, err := b.transitions(b.sets[id])
		if err != nil {
			return nil, err
		}
		b.states[id].trans = trans
	}

	return &DFA{states: b.states, start: start}, nil
}

// closure returns the sorted set of instructions reachable from pcs without
// consuming input, given the assertions that hold at the current position.
// The set holds rune instructions, match instructions, and end-of-text
// assertions that are waiting for the input to end.
func (b *builder) closure(pcs []uint32, satisfied syntax.EmptyOp) []uint32 {
	var out []uint32
	stack := append([]uint32(nil), pcs...)
	var visited []uint32

	for len(stack) > 0 {
		pc := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if b.seen[pc] {
			continue
		}
		b.seen[pc] = true
		visited = append(visited, pc)

		inst := &b.prog.Inst[pc]
		switch inst.Op {
		case syntax.InstAlt, syntax.InstAltMatch:
			stack = append(stack, inst.Arg, inst.Out)
		case syntax.InstCapture, syntax.InstNop:
			stack = append(stack, inst.Out)
		case syntax.InstEmptyWidth:
			op := syntax.EmptyOp(inst.Arg)
			switch {
			case op&^satisfied == 0:
				stack = append(stack, inst.Out)
			case op&^(satisfied|syntax.EmptyEndText) == 0:
				out = append(out, pc)
			}
		case syntax.InstMatch, syntax.InstRune, syntax.InstRune1,
			syntax.InstRuneAny, syntax.InstRuneAnyNotNL:
			out = append(out, pc)
		case syntax.InstFail:
		}
	}

	for _, pc := range visited {
		b.seen[pc] = false
	}
	slices.Sort(out)
	return out
}

func (b *builder) hasMatch(set []uint32) bool {
	for _, pc := range set {
		if b.prog.Inst[pc].Op == syntax.InstMatch {
			return true
		}
	}
	return false
}

// matchesAtEnd reports whether set accepts once the input is exhausted.
func (b *builder) matchesAtEnd(set []uint32, begin bool) bool {
	satisfied := syntax.EmptyEndText
	if begin {
		satisfied |= syntax.EmptyBeginText
	}
	var waiting []uint32
	for _, pc := range set {
		if b.prog.Inst[pc].Op == syntax.InstEmptyWidth {
			waiting = append(waiting, pc)
		}
	}
	if len(waiting) == 0 {
		return false
	}
	return b.hasMatch(b.closure(waiting, satisfied))
}

func setKey(set []uint32, begin bool) string {
	buf := make([]byte, 1+4*len(set))
	if begin {
		buf[0] = 1
	}
	for i, pc := range set {
		binary.LittleEndian.PutUint32(buf[1+4*i:], pc)
	}
	return string(buf)
}

// intern returns the state for set, creating it when new.
func (b *builder) intern(set []uint32, begin bool) (int32, error) {
	if len(set) == 0 {
		return dead, nil
	}
	accept := b.hasMatch(set)
	if accept {
		// every accepting set behaves the same
		set, begin = nil, false
	}

	key := setKey(set, begin)
	if id, ok := b.index[key]; ok {
		return id, nil
	}
	if len(b.states) >= b.maxStates {
		return dead, fmt.Errorf("%w: more than %d states", ErrTooLarge, b.maxStates)
	}

	id := int32(len(b.states))
	b.states = append(b.states, state{
		accept:      accept,
		acceptAtEnd: !accept && b.matchesAtEnd(set, begin),
	})
	b.sets = append(b.sets, set)
	b.index[key] = id
	b.pending = append(b.pending, id)
	return id, nil
}

type edge struct {
	at    rune
	owner int
	delta int
}

// transitions computes the outgoing edges of the state holding set.
// Every rune gets an edge: runes no instruction consumes lead to the
// restart closure so the search stays unanchored.
func (b *builder) transitions(set []uint32) ([]transition, error) {
	var owners []uint32
	var edges []edge
	for _, pc := range set {
		ranges := runeRanges(&b.prog.Inst[pc])
		if ranges == nil {
			continue
		}
		owner := len(owners)
		owners = append(owners, pc)
		for i := 0; i < len(ranges); i += 2 {
			edges = append(edges, edge{at: ranges[i], owner: owner, delta: 1})
			if ranges[i+1] < unicode.MaxRune {
				edges = append(edges, edge{at: ranges[i+1] + 1, owner: owner, delta: -1})
			}
		}
	}
	slices.SortFunc(edges, func(x, y edge) int { return int(x.at - y.at) })

	active := make([]int, len(owners))
	targets := make(map[string]int32)
	var out []transition

	emit := func(lo, hi rune) error {
		var next []uint32
		var keyBuf strings.Builder
		for i, n := range active {
			if n > 0 {
				next = append(next, b.prog.Inst[owners[i]].Out)
				fmt.Fprintf(&keyBuf, "%d,", i)
			}
		}
		key := keyBuf.String()
		id, ok := targets[key]
		if !ok {
			var err error
			id, err = b.intern(b.step(next), false)
			if err != nil {
				return err
			}
			targets[key] = id
		}
		if n := len(out); n > 0 && out[n-1].next == id && out[n-1].hi+1 == lo {
			out[n-1].hi = hi
			return nil
		}
		out = append(out, transition{lo: lo, hi: hi, next: id})
		return nil
	}

	pos := rune(0)
	for i := 0; i < len(edges); {
		at := edges[i].at
		if at > pos {
			if err := emit(pos, at-1); err != nil {
				return nil, err
			}
			pos = at
		}
		for ; i < len(edges) && edges[i].at == at; i++ {
			active[edges[i].owner] += edges[i].delta
		}
	}
	if err := emit(pos, unicode.MaxRune); err != nil {
		return nil, err
	}

	// dead edges carry no information
	return slices.DeleteFunc(out, func(t transition) bool { return t.next == dead }), nil
}

// step merges the closure of the consumed instructions with a fresh search
// thread starting at the next position.
func (b *builder) step(outs []uint32) []uint32 {
	next := b.closure(outs, 0)
	if len(b.restart) == 0 {
		return next
	}
	merged := append(next, b.restart...)
	slices.Sort(merged)
	return slices.Compact(merged)
}

// runeRanges returns the inclusive ranges consumed by inst as lo/hi pairs, or
// nil when inst consumes nothing.
func runeRanges(inst *syntax.Inst) []rune {
	switch inst.Op {
	case syntax.InstRune1:
		return []rune{inst.Rune[0], inst.Rune[0]}
	case syntax.InstRuneAny:
		return []rune{0, unicode.MaxRune}
	case syntax.InstRuneAnyNotNL:
		return []rune{0, '\n' - 1, '\n' + 1, unicode.MaxRune}
	case syntax.InstRune:
		if len(inst.Rune) == 1 {
			r0 := inst.Rune[0]
			if syntax.Flags(inst.Arg)&syntax.FoldCase == 0 {
				return []rune{r0, r0}
			}
			orbit := []rune{r0}
			for r := unicode.SimpleFold(r0); r != r0; r = unicode.SimpleFold(r) {
				orbit = append(orbit, r)
			}
			slices.Sort(orbit)
			ranges := make([]rune, 0, 2*len(orbit))
			for _, r := range orbit {
				ranges = append(ranges, r, r)
			}
			return ranges
		}
		return inst.Rune
	}
	return nil
}
