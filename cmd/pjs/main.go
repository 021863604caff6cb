// Package main implements pjs, a local demonstration of priority JSON
// streaming. It analyzes a document into a frame plan, replays the plan
// through a reconstructor, and renders the document the way a connected
// client sees it arrive: skeleton first, important fields next, bulky
// content last. No server involved.
package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-colorable"
	"github.com/mattn/go-isatty"

	"github.com/c360/pjstream/analyzer"
	"github.com/c360/pjstream/frame"
	"github.com/c360/pjstream/pkg/checksum"
	"github.com/c360/pjstream/reconstruct"
)

// Version is the pjs tool version.
const Version = "0.1.0"

func main() {
	// Do not handle SIGPIPE; write errors surface as EPIPE and are
	// swallowed at the bottom of main.
	signal.Ignore(syscall.SIGPIPE)

	defer func() {
		if e := recover(); e != nil {
			fmt.Fprintf(os.Stderr, "%s: %s", e, debug.Stack())
			os.Exit(2)
		}
	}()

	var (
		listPlan    bool
		fps         float64
		colorMode   string
		chunkMin    int
		maxPatch    int
		showVersion bool
	)

	flag.Usage = printUsage
	flag.BoolVar(&listPlan, "list", false, "print the frame plan instead of rendering")
	flag.Float64Var(&fps, "fps", 12, "replay speed in frames per second (0 renders instantly)")
	flag.StringVar(&colorMode, "color", "auto", "colorize output: auto, always, never")
	flag.IntVar(&chunkMin, "chunk", analyzer.DefaultArrayChunkMin, "array length above which elements stream one per entry")
	flag.IntVar(&maxPatch, "max-patch", analyzer.DefaultMaxPatchSize, "maximum patch entries per frame")
	flag.BoolVar(&showVersion, "version", false, "print version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("pjs %s\n", Version)
		return
	}

	colors := isatty.IsTerminal(os.Stdout.Fd())
	switch colorMode {
	case "always":
		colors = true
	case "never":
		colors = false
	case "auto":
		// Already decided by the isatty check above.
	default:
		fatalError("invalid -color value: %q (use auto, always, or never)", colorMode)
	}
	pal := plainPalette
	if colors {
		pal = terminalPalette
	}

	doc, name, err := readDocument(flag.Args())
	if err != nil {
		fatalError("error: %s", err)
	}

	cfg := analyzer.DefaultConfig()
	cfg.ArrayChunkMin = chunkMin
	cfg.MaxPatchSize = maxPatch
	an, err := analyzer.New(cfg, analyzer.WithChecksum(checksum.New()))
	if err != nil {
		fatalError("error: %s", err)
	}

	plan, err := an.Analyze(uuid.NewString(), doc)
	if err != nil {
		fatalError("error: %s", err)
	}

	// Set up stdout for handling colors.
	var stdout io.Writer = os.Stdout
	if colors {
		stdout = colorable.NewColorableStdout()
	}
	out := bufio.NewWriter(stdout)
	defer out.Flush()

	switch {
	case listPlan:
		err = listFrames(out, plan, pal)
	case isatty.IsTerminal(os.Stdout.Fd()):
		err = replayTerminal(out, plan, name, fps, pal)
	default:
		err = replayPipe(out, plan, pal)
	}
	if err != nil {
		if errors.Is(err, syscall.EPIPE) {
			// stdout is a pipe and something closed it (e.g. 'head' or
			// 'less'). In this case we don't want to complain.
			return
		}
		fatalError("error: %s", err)
	}
}

// readDocument loads the document from the single file argument, or
// from stdin when no argument is given.
func readDocument(args []string) (any, string, error) {
	var (
		data []byte
		name = "stdin"
		err  error
	)
	switch len(args) {
	case 0:
		data, err = io.ReadAll(os.Stdin)
	case 1:
		name = args[0]
		data, err = os.ReadFile(args[0])
	default:
		return nil, "", fmt.Errorf("expected one input file, got %d arguments", len(args))
	}
	if err != nil {
		return nil, "", err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, "", fmt.Errorf("empty input")
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, "", fmt.Errorf("parse %s: %w", name, err)
	}
	return doc, name, nil
}

// listFrames prints the plan one line per frame: sequence, kind, and a
// short account of what the frame carries.
func listFrames(out *bufio.Writer, plan *analyzer.Plan, pal palette) error {
	fmt.Fprintf(out, "%d frames, %d patch entries\n\n", plan.FrameCount(), plan.PatchEntryCount())
	for {
		f, ok := plan.Next()
		if !ok {
			break
		}
		fmt.Fprintf(out, "#%-3d ", f.Sequence())
		out.Write(pal.kind(f.Kind()))
		fmt.Fprintf(out, "%-9s", f.Kind())
		out.Write(pal.reset)
		switch f.Kind() {
		case frame.KindSkeleton:
			out.WriteString(" document shape")
		case frame.KindPatch:
			fmt.Fprintf(out, " priority=%-10s %s", f.Priority(), summarizeEntries(f.Patches(), 3))
		case frame.KindComplete:
			if sum := f.Checksum(); sum != "" {
				fmt.Fprintf(out, " checksum=%s", sum)
			}
		}
		out.WriteByte('\n')
	}
	return out.Flush()
}

// summarizeEntries describes up to max patch targets, eliding the rest.
func summarizeEntries(entries []frame.PatchEntry, max int) string {
	parts := make([]string, 0, max+1)
	for i, e := range entries {
		if i == max {
			parts = append(parts, fmt.Sprintf("(+%d more)", len(entries)-max))
			break
		}
		if e.Op == frame.OpSet {
			parts = append(parts, e.Path.String())
		} else {
			parts = append(parts, string(e.Op)+" "+e.Path.String())
		}
	}
	return fmt.Sprintf("%d entries: %s", len(entries), strings.Join(parts, ", "))
}

// replayTerminal animates the plan: after every frame the screen is
// repainted with the document as the reconstructor currently sees it,
// plus a one line progress footer.
func replayTerminal(out *bufio.Writer, plan *analyzer.Plan, name string, fps float64, pal palette) error {
	rec := reconstruct.New(reconstruct.WithChecksum(checksum.New()))
	total := plan.FrameCount()

	var delay time.Duration
	if fps > 0 {
		delay = time.Duration(float64(time.Second) / fps)
	}

	applied := 0
	for {
		f, ok := plan.Next()
		if !ok {
			break
		}
		if err := rec.AddFrame(f); err != nil {
			return err
		}
		applied++

		out.Write(clearScreen)
		renderValue(out, rec.CurrentState(), 0, pal)
		out.WriteByte('\n')
		writeStatus(out, f, name, applied, total, pal)
		if err := out.Flush(); err != nil {
			return err
		}
		if delay > 0 && applied < total {
			time.Sleep(delay)
		}
	}
	if msg, failed := rec.Failed(); failed {
		return fmt.Errorf("stream failed: %s", msg)
	}
	if !rec.Complete() {
		return fmt.Errorf("plan ended without a complete frame")
	}
	return nil
}

// writeStatus prints the progress footer under the rendered document.
func writeStatus(out *bufio.Writer, f frame.Frame, name string, applied, total int, pal palette) {
	out.Write(pal.dim)
	fmt.Fprintf(out, "\n%s  frame %d/%d  ", name, applied, total)
	out.Write(pal.reset)
	out.Write(pal.kind(f.Kind()))
	out.WriteString(f.Kind().String())
	out.Write(pal.reset)
	out.Write(pal.dim)
	switch f.Kind() {
	case frame.KindPatch:
		fmt.Fprintf(out, "  priority=%s  %d entries", f.Priority(), len(f.Patches()))
	case frame.KindComplete:
		if f.Checksum() != "" {
			// AddFrame already compared the digest; reaching here means
			// it matched.
			out.WriteString("  checksum verified")
		}
	}
	out.Write(pal.reset)
	out.WriteByte('\n')
}

// replayPipe applies the whole plan and prints the reconstructed
// document once. Used when stdout is not a terminal.
func replayPipe(out *bufio.Writer, plan *analyzer.Plan, pal palette) error {
	rec := reconstruct.New(reconstruct.WithChecksum(checksum.New()))
	for {
		f, ok := plan.Next()
		if !ok {
			break
		}
		if err := rec.AddFrame(f); err != nil {
			return err
		}
	}
	if msg, failed := rec.Failed(); failed {
		return fmt.Errorf("stream failed: %s", msg)
	}
	if !rec.Complete() {
		return fmt.Errorf("plan ended without a complete frame")
	}
	renderValue(out, rec.CurrentState(), 0, pal)
	out.WriteByte('\n')
	return out.Flush()
}

func fatalError(msg string, args ...any) {
	fmt.Fprintf(os.Stderr, msg+"\n", args...)
	os.Exit(1)
}

func printUsage() {
	fmt.Fprint(os.Stderr, `pjs - priority JSON streaming demo

USAGE:
  pjs [options] [file.json]

DESCRIPTION:
  pjs analyzes a JSON document into a priority-ordered frame plan and
  replays it locally, rendering the document the way a streaming client
  sees it arrive: skeleton first, important fields next, bulky content
  last.

  Input is read from the file argument, or from stdin:
    pjs product.json
    curl -s https://api.example.com/product | pjs

  When stdout is a terminal the replay animates, repainting the document
  after every frame. When piped, the fully reconstructed document is
  printed once.

OPTIONS:
  -list             Print the frame plan instead of rendering
  -fps N            Replay speed in frames per second (default 12, 0 = instant)
  -color MODE       Colorize output: auto, always, never (default auto)
  -chunk N          Array length above which elements stream one at a time
  -max-patch N      Maximum patch entries per frame
  -version          Print version and exit

EXAMPLES:
  pjs -list product.json
  pjs -fps 4 product.json
  pjs -color never product.json | jq .
`)
}
