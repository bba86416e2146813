package progress

import (
	"bytes"
	"strings"
	"testing"
)

func TestCIReporter(t *testing.T) {
	var buf bytes.Buffer
	r := NewCIReporter("extract", &buf)
	r.Start(2)
	fn := Bind(r)
	fn(1, 2, "a.py")
	fn(2, 2, "b.py")
	r.Finish()

	out := buf.String()
	for _, want := range []string{"extract: starting 2 items", "extract [1/2] a.py", "extract [2/2] b.py", "extract: complete"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestNop(t *testing.T) {
	var r Reporter = Nop{}
	r.Start(1)
	r.Update(1, "x")
	r.Finish()
}
