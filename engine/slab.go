package engine

import (
	"math"
	"sync"

	"github.com/opd-ai/whaleconnect/syserr"
)

// Token correlates a native request with its pending-operation slot.
// The low 32 bits are the slot index and the high 32 bits its generation.
type Token uint64

const (
	// sentinelToken wakes a worker for shutdown.
	sentinelToken Token = math.MaxUint64
	// cancelToken tags completions of cancellation requests themselves.
	cancelToken Token = math.MaxUint64 - 1
)

func makeToken(index, gen uint32) Token {
	return Token(uint64(gen)<<32 | uint64(index))
}

func (t Token) index() uint32 { return uint32(t) }

func (t Token) gen() uint32 { return uint32(t >> 32) }

// slot holds one pending operation and everything the kernel may reference
// while it is in flight.
type slot struct {
	gen       uint32
	inUse     bool
	completed bool
	req       Request
	res       Result
	err       error
	done      chan struct{}
	st        opState
}

// slab is the arena of pending-operation slots.
type slab struct {
	mu    sync.Mutex
	slots []*slot
	free  []uint32
}

func newSlab() *slab {
	return &slab{}
}

// acquire reserves a slot for req and returns its token.
func (sl *slab) acquire(req Request) (Token, *slot) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	var idx uint32
	if n := len(sl.free); n > 0 {
		idx = sl.free[n-1]
		sl.free = sl.free[:n-1]
	} else {
		idx = uint32(len(sl.slots))
		sl.slots = append(sl.slots, &slot{gen: 1})
	}

	s := sl.slots[idx]
	s.inUse = true
	s.completed = false
	s.req = req
	s.res = Result{}
	s.err = nil
	s.done = make(chan struct{})
	s.st = opState{}
	return makeToken(idx, s.gen), s
}

// get resolves tok to its slot if the token is current.
func (sl *slab) get(tok Token) *slot {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.lookup(tok)
}

// with runs fn on tok's slot while holding the slab lock. It reports false
// for stale tokens. Operation state written by a submitter and read back by
// a worker goes through here.
func (sl *slab) with(tok Token, fn func(s *slot)) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	s := sl.lookup(tok)
	if s == nil {
		return false
	}
	fn(s)
	return true
}

func (sl *slab) lookup(tok Token) *slot {
	idx := tok.index()
	if int(idx) >= len(sl.slots) {
		return nil
	}
	s := sl.slots[idx]
	if !s.inUse || s.gen != tok.gen() {
		return nil
	}
	return s
}

// complete stores the result for tok and wakes its caller. It reports false
// for stale tokens and for slots that already completed, so a result is
// delivered at most once.
func (sl *slab) complete(tok Token, res Result, err error) bool {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	s := sl.lookup(tok)
	if s == nil || s.completed {
		return false
	}
	s.completed = true
	s.res = res
	if err != nil {
		s.err = syserr.New(s.req.Op.String(), err)
	}
	close(s.done)
	return true
}

// release returns the slot to the free list and invalidates tok.
func (sl *slab) release(tok Token) {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	s := sl.lookup(tok)
	if s == nil {
		return
	}
	s.inUse = false
	s.req = Request{}
	s.res = Result{}
	s.err = nil
	s.st = opState{}
	s.gen++
	if s.gen == math.MaxUint32 {
		s.gen = 1
	}
	sl.free = append(sl.free, tok.index())
}

// pending returns the tokens of uncompleted operations, optionally limited to fd.
func (sl *slab) pending(fd uintptr, all bool) []Token {
	sl.mu.Lock()
	defer sl.mu.Unlock()

	var toks []Token
	for i, s := range sl.slots {
		if s.inUse && !s.completed && (all || s.req.FD == fd) {
			toks = append(toks, makeToken(uint32(i), s.gen))
		}
	}
	return toks
}

// inFlight returns the number of reserved slots.
func (sl *slab) inFlight() int {
	sl.mu.Lock()
	defer sl.mu.Unlock()
	return len(sl.slots) - len(sl.free)
}
