package gpio

import (
	"sync"
	"time"
)

// Level is one recorded SetValue call.
type Level struct {
	Offset int
	Value  int
	At     time.Time
}

// FakeChip is an in-memory Chip for tests.
type FakeChip struct {
	mu      sync.Mutex
	inputs  map[int]int
	levels  []Level
	pulls   map[int][]Pull
	open    map[int]int
	FailReq error
}

// NewFakeChip returns an empty fake chip.
func NewFakeChip() *FakeChip {
	return &FakeChip{inputs: map[int]int{}, pulls: map[int][]Pull{}, open: map[int]int{}}
}

func (c *FakeChip) Output(offset, initial int, pull Pull) (Line, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailReq != nil {
		return nil, c.FailReq
	}
	c.open[offset]++
	c.pulls[offset] = append(c.pulls[offset], pull)
	c.levels = append(c.levels, Level{Offset: offset, Value: initial, At: time.Now()})
	return &fakeLine{chip: c, offset: offset}, nil
}

func (c *FakeChip) Input(offset int, pull Pull) (Line, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.FailReq != nil {
		return nil, c.FailReq
	}
	c.open[offset]++
	c.pulls[offset] = append(c.pulls[offset], pull)
	return &fakeLine{chip: c, offset: offset}, nil
}

// SetInput sets the level read back from an input line.
func (c *FakeChip) SetInput(offset, v int) {
	c.mu.Lock()
	c.inputs[offset] = v
	c.mu.Unlock()
}

// Levels returns the recorded output levels in order.
func (c *FakeChip) Levels() []Level {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Level(nil), c.levels...)
}

// Pulls returns the bias history of a line.
func (c *FakeChip) Pulls(offset int) []Pull {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Pull(nil), c.pulls[offset]...)
}

// Open reports how many requests for offset are still unreleased.
func (c *FakeChip) Open(offset int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open[offset]
}

type fakeLine struct {
	chip   *FakeChip
	offset int
	closed bool
}

func (l *fakeLine) SetValue(v int) error {
	l.chip.mu.Lock()
	defer l.chip.mu.Unlock()
	l.chip.levels = append(l.chip.levels, Level{Offset: l.offset, Value: v, At: time.Now()})
	return nil
}

func (l *fakeLine) Value() (int, error) {
	l.chip.mu.Lock()
	defer l.chip.mu.Unlock()
	return l.chip.inputs[l.offset], nil
}

func (l *fakeLine) SetPull(p Pull) error {
	l.chip.mu.Lock()
	defer l.chip.mu.Unlock()
	l.chip.pulls[l.offset] = append(l.chip.pulls[l.offset], p)
	return nil
}

func (l *fakeLine) Close() error {
	l.chip.mu.Lock()
	defer l.chip.mu.Unlock()
	if !l.closed {
		l.closed = true
		l.chip.open[l.offset]--
	}
	return nil
}
