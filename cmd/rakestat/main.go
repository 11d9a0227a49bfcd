// Command rakestat summarizes the session files in a log directory.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/rakerig/rakelog/internal/reading"
	"github.com/rakerig/rakelog/internal/session"
)

func main() {
	dir := flag.String("dir", ".", "Session log directory")
	prefix := flag.String("prefix", "rake_log", "Session file prefix")
	flag.Parse()

	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)

	paths, err := session.Discover(*dir, *prefix)
	if err != nil {
		log.Fatalf("[main] %v", err)
	}
	if len(paths) == 0 {
		log.Printf("[main] no files matching %s_*.csv in %s", *prefix, *dir)
		os.Exit(1)
	}

	var all []reading.Reading
	bad := 0
	for _, p := range paths {
		f, err := session.Load(p)
		if err != nil {
			log.Printf("[session] skipping %s: %v", p, err)
			continue
		}
		bad += f.BadRows
		all = append(all, f.Readings...)
		printSummary(os.Stdout, filepath.Base(p), session.Summarize(f.Readings), f.BadRows)
	}

	fmt.Printf("== combined: %d files ==\n", len(paths))
	printSummary(os.Stdout, "all sessions", session.Summarize(all), bad)
}

func printSummary(w io.Writer, name string, s session.Summary, bad int) {
	fmt.Fprintf(w, "%s\n", name)
	fmt.Fprintf(w, "  rows:   %d (%d with GPS fix", s.Readings, s.Fixes)
	if bad > 0 {
		fmt.Fprintf(w, ", %d unparseable", bad)
	}
	fmt.Fprintln(w, ")")
	if s.Readings == 0 {
		fmt.Fprintln(w)
		return
	}
	fmt.Fprintf(w, "  time:   %s .. %s (%s)\n",
		s.First.Format(time.DateTime), s.Last.Format(time.DateTime), s.Duration().Round(time.Second))
	for _, metric := range session.SummaryMetrics {
		st, ok := s.Metrics[metric]
		if !ok {
			continue
		}
		fmt.Fprintf(w, "  %-12s n=%-6d min=%-10.2f mean=%-10.2f max=%.2f\n",
			metric, st.Count, st.Min, st.Mean, st.Max)
	}
	fmt.Fprintln(w)
}
