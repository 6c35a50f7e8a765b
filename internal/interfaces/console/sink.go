package console

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"spreadarb/internal/application/port"
)

// Sink 终端输出：实时行原地刷新，报表前后各留一行
type Sink struct {
	mu  sync.Mutex
	out io.Writer
}

func NewSink() port.Sink { return NewWriterSink(os.Stdout) }

func NewWriterSink(w io.Writer) *Sink { return &Sink{out: w} }

func (s *Sink) WriteLive(line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprint(s.out, line) // no newline
	return err
}

// WriteReport 打印报表后不立刻重画 live，等下一次评估刷新
func (s *Sink) WriteReport(ts time.Time, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.out, "\n%s\n%s\n", ts.Format("2006-01-02 15:04:05"), body)
	return err
}

func (s *Sink) NewLine() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprint(s.out, "\n")
	return err
}
