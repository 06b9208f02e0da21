package progress

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
)

type PackageInfo struct {
	Name    string
	Version string
}

// Progress shows a spinner while a long phase runs and prints a summary when
// it ends. All methods are safe for concurrent use.
type Progress struct {
	spinner    *spinner.Spinner
	out        io.Writer
	startTime  time.Time
	topLevel   []PackageInfo
	totalCount int
	mu         sync.Mutex
	version    string
	verbose    bool
}

func New(version string, verbose bool) *Progress {
	return NewWithWriter(os.Stdout, version, verbose)
}

func NewWithWriter(out io.Writer, version string, verbose bool) *Progress {
	s := spinner.New(spinner.CharSets[14], 80*time.Millisecond, spinner.WithWriter(out))
	s.Color("cyan")

	return &Progress{
		spinner:  s,
		out:      out,
		topLevel: make([]PackageInfo, 0),
		version:  version,
		verbose:  verbose,
	}
}

// Start prints the command header and starts the spinner.
func (p *Progress) Start(command string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.startTime = time.Now()
	fmt.Fprintf(p.out, "npm-bazel %s %s\n\n", command, p.version)
	p.spinner.Suffix = " Resolving dependencies..."
	p.spinner.Start()
}

// SetStatus updates the spinner message. Verbose mode also prints it.
func (p *Progress) SetStatus(msg string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spinner.Suffix = " " + msg

	if p.verbose {
		p.spinner.Stop()
		fmt.Fprintf(p.out, "  %s\n", msg)
		p.spinner.Start()
	}
}

func (p *Progress) AddTopLevel(name, version string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topLevel = append(p.topLevel, PackageInfo{Name: name, Version: version})
}

func (p *Progress) IncrementCount() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalCount++
}

func (p *Progress) SetCount(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.totalCount = n
}

// Finish stops the spinner and prints the top-level packages followed by
// "<count> packages <action> [<seconds>s]".
func (p *Progress) Finish(action string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spinner.Stop()

	for _, pkg := range p.topLevel {
		fmt.Fprintf(p.out, "+ %s@%s\n", pkg.Name, pkg.Version)
	}
	if len(p.topLevel) > 0 {
		fmt.Fprintln(p.out)
	}

	duration := time.Since(p.startTime)
	fmt.Fprintf(p.out, "%d packages %s [%.2fs]\n", p.totalCount, action, duration.Seconds())
}

// Stop halts the spinner without a summary, for failed runs.
func (p *Progress) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spinner.Stop()
}

func (p *Progress) Warn(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.spinner.Stop()
	fmt.Fprintf(p.out, "warning: "+format+"\n", args...)
	p.spinner.Start()
}
