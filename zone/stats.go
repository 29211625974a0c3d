package zone

import "fmt"

// Statistics is the usage summary a zone reports.
type Statistics struct {
	BlocksInUse   uint64 // live blocks
	SizeInUse     uint64 // bytes handed out, rounded to block size
	MaxSizeInUse  uint64 // high-water mark of touched bytes
	SizeAllocated uint64 // bytes reserved from the OS
}

// Add accumulates o into s.
func (s *Statistics) Add(o Statistics) {
	s.BlocksInUse += o.BlocksInUse
	s.SizeInUse += o.SizeInUse
	s.MaxSizeInUse += o.MaxSizeInUse
	s.SizeAllocated += o.SizeAllocated
}

func (s Statistics) String() string {
	return fmt.Sprintf("blocks=%d in-use=%d max=%d allocated=%d",
		s.BlocksInUse, s.SizeInUse, s.MaxSizeInUse, s.SizeAllocated)
}
