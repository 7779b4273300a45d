package turn

import (
	"math"
)

// Report summarizes an exhaustive exploration of a turn protocol.
type Report struct {
	Mode      string
	Producers int
	Rounds    int
	States    int
	// Min and Max range over the turn slots only.
	Min int
	Max int
	// MaxInside is the largest number of producers seen between their lock
	// and unlock at the same time.
	MaxInside int
	// Deadlocks counts reachable states where no producer can move but not
	// every producer has finished its rounds.
	Deadlocks int
	// Conserved is false if some state with no producer inside held a
	// different token total than the initial state.
	Conserved bool
}

func (r Report) MutualExclusion() bool { return r.MaxInside <= 1 }

const (
	pcOutside = iota
	pcInside
)

type state struct {
	vals   []int
	pc     []int
	rounds []int
}

func (s state) key() string {
	b := make([]byte, 0, 2*(len(s.vals)+2*len(s.pc)))
	for _, v := range s.vals {
		b = append(b, byte(v), byte(v>>8))
	}
	for i := range s.pc {
		b = append(b, byte(s.pc[i]), byte(s.rounds[i]))
	}
	return string(b)
}

func (s state) clone() state {
	return state{
		vals:   append([]int(nil), s.vals...),
		pc:     append([]int(nil), s.pc...),
		rounds: append([]int(nil), s.rounds...),
	}
}

func tokenSum(vals []int) int {
	sum := 0
	for _, v := range vals[1:] {
		sum += v
	}
	return sum
}

// Check explores every interleaving of n producers each performing rounds
// lock/unlock pairs under the given mode.
func Check(mode string, n, rounds int) (Report, error) {
	l, err := Roles(mode, n)
	if err != nil {
		return Report{}, err
	}
	if rounds < 1 || rounds > math.MaxUint8 {
		panic("turn: rounds out of range")
	}

	r := Report{
		Mode:      mode,
		Producers: n,
		Rounds:    rounds,
		Min:       math.MaxInt,
		Max:       math.MinInt,
		Conserved: true,
	}
	start := state{
		vals:   append([]int(nil), l.Initial...),
		pc:     make([]int, n),
		rounds: make([]int, n),
	}
	initSum := tokenSum(start.vals)

	seen := map[string]struct{}{start.key(): {}}
	queue := []state{start}
	for len(queue) != 0 {
		s := queue[0]
		queue = queue[1:]
		r.States++

		inside := 0
		for _, pc := range s.pc {
			if pc == pcInside {
				inside++
			}
		}
		r.MaxInside = max(r.MaxInside, inside)
		for _, v := range s.vals[1:] {
			r.Min = min(r.Min, v)
			r.Max = max(r.Max, v)
		}
		if inside == 0 && tokenSum(s.vals) != initSum {
			r.Conserved = false
		}

		moved, finished := false, true
		for i, role := range l.Roles {
			op := role.Lock
			switch {
			case s.pc[i] == pcInside:
				op = role.Unlock
			case s.rounds[i] == rounds:
				continue
			}
			finished = false
			v := s.vals[op.Num] + op.Delta
			if v < 0 {
				continue
			}
			moved = true
			next := s.clone()
			next.vals[op.Num] = v
			if s.pc[i] == pcInside {
				next.pc[i] = pcOutside
				next.rounds[i]++
			} else {
				next.pc[i] = pcInside
			}
			k := next.key()
			if _, ok := seen[k]; !ok {
				seen[k] = struct{}{}
				queue = append(queue, next)
			}
		}
		if !moved && !finished {
			r.Deadlocks++
		}
	}
	return r, nil
}
