package automaton

import (
	"sort"
	"unicode/utf8"
)

// Match reports whether the pattern matches anywhere in s.
func (d *DFA) Match(s string) (bool, error) {
	if !utf8.ValidString(s) {
		return false, ErrInvalidUTF8
	}
	cur := d.start
	if cur == dead {
		return false, nil
	}
	for _, r := range s {
		st := &d.states[cur]
		if st.accept {
			return true, nil
		}
		cur = st.next(r)
		if cur == dead {
			return false, nil
		}
	}
	st := &d.states[cur]
	return st.accept || st.acceptAtEnd, nil
}

// MatchAll reports whether every input matches. It stops at the first miss.
func (d *DFA) MatchAll(inputs []string) (bool, error) {
	for _, s := range inputs {
		ok, err := d.Match(s)
		if err != nil || !ok {
			return false, err
		}
	}
	return true, nil
}

// MatchNone reports whether no input matches. It stops at the first hit.
func (d *DFA) MatchNone(inputs []string) (bool, error) {
	for _, s := range inputs {
		ok, err := d.Match(s)
		if err != nil || ok {
			return false, err
		}
	}
	return true, nil
}

func (st *state) next(r rune) int32 {
	i := sort.Search(len(st.trans), func(i int) bool { return st.trans[i].hi >= r })
	if i < len(st.trans) && st.trans[i].lo <= r {
		return st.trans[i].next
	}
	return dead
}

// NumStates returns the number of states.
func (d *DFA) NumStates() int {
	return len(d.states)
}

// NumTransitions returns the total number of rune-range transitions.
func (d *DFA) NumTransitions() int {
	n := 0
	for i := range d.states {
		n += len(d.states[i].trans)
	}
	return n
}
