//go:build !linux

package gpio

// CdevChip is a placeholder so non-linux builds compile; every request fails.
type CdevChip struct {
	Name string
}

func Open(name string) (*CdevChip, error) { return nil, ErrUnsupported }

func (c *CdevChip) Output(offset, initial int, pull Pull) (Line, error) { return nil, ErrUnsupported }
func (c *CdevChip) Input(offset int, pull Pull) (Line, error)           { return nil, ErrUnsupported }
