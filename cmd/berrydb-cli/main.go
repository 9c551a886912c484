// berrydb-cli is an interactive shell for a berrydb server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/c-bata/go-prompt"
	"github.com/google/uuid"
	"golang.org/x/term"

	"github.com/berrydb/berrydb/internal/client"
	"github.com/berrydb/berrydb/internal/storage/types"
)

// Version is set at build time via ldflags.
var Version = "dev"

// =============================================================================
// Command Table
// =============================================================================

type command struct {
	name string
	args string
	desc string
	run  func(cli *shell, args []string) error
}

var commands []command

func init() {
	commands = []command{
		{"insert", "<stream> <time:value>... [sync]", "commit points to a stream", (*shell).cmdInsert},
		{"delete", "<stream> <start> <end> [sync]", "delete points in [start, end)", (*shell).cmdDelete},
		{"range", "<stream> <start> <end> [version]", "read points in [start, end)", (*shell).cmdRange},
		{"all", "<stream> [version]", "read a stream's full history", (*shell).cmdAll},
		{"nearest", "<stream> <time> [before|after] [version]", "find the nearest point", (*shell).cmdNearest},
		{"version", "<stream>", "show the latest version of a stream", (*shell).cmdVersion},
		{"stats", "<stream> <start> <end> <pointwidth> [version]", "aligned bucket statistics", (*shell).cmdStats},
		{"window", "<stream> <start> <end> <width> [version]", "fixed-width window statistics", (*shell).cmdWindow},
		{"changed", "<stream> <from> <to> [resolution]", "ranges changed between versions", (*shell).cmdChanged},
		{"archived", "<stream> <start> <end>", "read archived points in [start, end)", (*shell).cmdArchived},
		{"sql", "<query>", "run SQL over the archive", (*shell).cmdSQL},
		{"server", "", "show server statistics", (*shell).cmdServer},
		{"help", "", "show this help", (*shell).cmdHelp},
		{"exit", "", "exit the shell", nil},
	}
}

// =============================================================================
// Shell
// =============================================================================

type shell struct {
	client  *client.Client
	timeout time.Duration
}

func (s *shell) execute(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}

	args := strings.Fields(line)
	name := args[0]

	if name == "exit" || name == "quit" {
		s.client.Close()
		os.Exit(0)
	}

	for _, c := range commands {
		if c.name == name && c.run != nil {
			if err := c.run(s, args[1:]); err != nil {
				fmt.Fprintf(os.Stderr, "error: %v\n", err)
			}
			return
		}
	}

	fmt.Fprintf(os.Stderr, "unknown command %q (try 'help')\n", name)
}

func (s *shell) complete(d prompt.Document) []prompt.Suggest {
	if strings.Contains(d.TextBeforeCursor(), " ") {
		return nil
	}
	suggestions := make([]prompt.Suggest, 0, len(commands))
	for _, c := range commands {
		suggestions = append(suggestions, prompt.Suggest{Text: c.name, Description: c.desc})
	}
	return prompt.FilterHasPrefix(suggestions, d.GetWordBeforeCursor(), true)
}

func (s *shell) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

// =============================================================================
// Commands
// =============================================================================

func parseStream(arg string) (types.StreamID, error) {
	id, err := uuid.Parse(arg)
	if err != nil {
		return types.StreamID{}, fmt.Errorf("invalid stream id %q: %w", arg, err)
	}
	return id, nil
}

func parseInt(arg, what string) (int64, error) {
	v, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", what, arg)
	}
	return v, nil
}

func parseVersion(args []string, idx int) (types.Version, error) {
	if len(args) <= idx {
		return types.LatestVersion, nil
	}
	v, err := strconv.ParseUint(args[idx], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q", args[idx])
	}
	return v, nil
}

func (s *shell) cmdInsert(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: insert <stream> <time:value>... [sync]")
	}
	stream, err := parseStream(args[0])
	if err != nil {
		return err
	}

	sync := false
	rest := args[1:]
	if rest[len(rest)-1] == "sync" {
		sync = true
		rest = rest[:len(rest)-1]
	}

	points := make([]types.Point, 0, len(rest))
	for _, arg := range rest {
		tv := strings.SplitN(arg, ":", 2)
		if len(tv) != 2 {
			return fmt.Errorf("invalid point %q (want time:value)", arg)
		}
		t, err := parseInt(tv[0], "time")
		if err != nil {
			return err
		}
		v, err := strconv.ParseFloat(tv[1], 64)
		if err != nil {
			return fmt.Errorf("invalid value %q", tv[1])
		}
		points = append(points, types.Point{Time: t, Value: v})
	}

	ctx, cancel := s.ctx()
	defer cancel()
	version, err := s.client.Insert(ctx, stream, points, sync)
	if err != nil {
		return err
	}
	fmt.Printf("ok: %d points, version %d\n", len(points), version)
	return nil
}

func (s *shell) cmdDelete(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: delete <stream> <start> <end> [sync]")
	}
	stream, err := parseStream(args[0])
	if err != nil {
		return err
	}
	start, err := parseInt(args[1], "start")
	if err != nil {
		return err
	}
	end, err := parseInt(args[2], "end")
	if err != nil {
		return err
	}
	sync := len(args) > 3 && args[3] == "sync"

	ctx, cancel := s.ctx()
	defer cancel()
	version, err := s.client.Delete(ctx, stream, start, end, sync)
	if err != nil {
		return err
	}
	fmt.Printf("ok: version %d\n", version)
	return nil
}

func (s *shell) cmdRange(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: range <stream> <start> <end> [version]")
	}
	stream, err := parseStream(args[0])
	if err != nil {
		return err
	}
	start, err := parseInt(args[1], "start")
	if err != nil {
		return err
	}
	end, err := parseInt(args[2], "end")
	if err != nil {
		return err
	}
	version, err := parseVersion(args, 3)
	if err != nil {
		return err
	}

	ctx, cancel := s.ctx()
	defer cancel()
	points, v, err := s.client.QueryRange(ctx, stream, start, end, version)
	if err != nil {
		return err
	}
	printPoints(points, v)
	return nil
}

func (s *shell) cmdAll(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: all <stream> [version]")
	}
	stream, err := parseStream(args[0])
	if err != nil {
		return err
	}
	version, err := parseVersion(args, 1)
	if err != nil {
		return err
	}

	ctx, cancel := s.ctx()
	defer cancel()
	points, v, err := s.client.QueryAll(ctx, stream, version)
	if err != nil {
		return err
	}
	printPoints(points, v)
	return nil
}

func (s *shell) cmdNearest(args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: nearest <stream> <time> [before|after] [version]")
	}
	stream, err := parseStream(args[0])
	if err != nil {
		return err
	}
	t, err := parseInt(args[1], "time")
	if err != nil {
		return err
	}

	backward := true
	versionIdx := 2
	if len(args) > 2 {
		switch args[2] {
		case "before":
			backward = true
			versionIdx = 3
		case "after":
			backward = false
			versionIdx = 3
		}
	}
	version, err := parseVersion(args, versionIdx)
	if err != nil {
		return err
	}

	ctx, cancel := s.ctx()
	defer cancel()
	p, v, err := s.client.QueryNearest(ctx, stream, t, backward, version)
	if err != nil {
		return err
	}
	fmt.Printf("%d  %g  (version %d)\n", p.Time, p.Value, v)
	return nil
}

func (s *shell) cmdVersion(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: version <stream>")
	}
	stream, err := parseStream(args[0])
	if err != nil {
		return err
	}

	ctx, cancel := s.ctx()
	defer cancel()
	v, err := s.client.QueryVersion(ctx, stream)
	if err != nil {
		return err
	}
	fmt.Printf("version %d\n", v)
	return nil
}

func (s *shell) cmdStats(args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("usage: stats <stream> <start> <end> <pointwidth> [version]")
	}
	stream, err := parseStream(args[0])
	if err != nil {
		return err
	}
	start, err := parseInt(args[1], "start")
	if err != nil {
		return err
	}
	end, err := parseInt(args[2], "end")
	if err != nil {
		return err
	}
	pw, err := strconv.ParseUint(args[3], 10, 8)
	if err != nil {
		return fmt.Errorf("invalid pointwidth %q", args[3])
	}
	version, err := parseVersion(args, 4)
	if err != nil {
		return err
	}

	ctx, cancel := s.ctx()
	defer cancel()
	stats, v, err := s.client.QueryStatistical(ctx, stream, start, end, uint8(pw), version)
	if err != nil {
		return err
	}
	printStats(stats, v)
	return nil
}

func (s *shell) cmdWindow(args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("usage: window <stream> <start> <end> <width> [version]")
	}
	stream, err := parseStream(args[0])
	if err != nil {
		return err
	}
	start, err := parseInt(args[1], "start")
	if err != nil {
		return err
	}
	end, err := parseInt(args[2], "end")
	if err != nil {
		return err
	}
	width, err := parseInt(args[3], "width")
	if err != nil {
		return err
	}
	version, err := parseVersion(args, 4)
	if err != nil {
		return err
	}

	ctx, cancel := s.ctx()
	defer cancel()
	stats, v, err := s.client.QueryWindow(ctx, stream, start, end, width, version)
	if err != nil {
		return err
	}
	printStats(stats, v)
	return nil
}

func (s *shell) cmdChanged(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: changed <stream> <from> <to> [resolution]")
	}
	stream, err := parseStream(args[0])
	if err != nil {
		return err
	}
	from, err := strconv.ParseUint(args[1], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q", args[1])
	}
	to, err := strconv.ParseUint(args[2], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid version %q", args[2])
	}
	var resolution uint8
	if len(args) > 3 {
		r, err := strconv.ParseUint(args[3], 10, 8)
		if err != nil {
			return fmt.Errorf("invalid resolution %q", args[3])
		}
		resolution = uint8(r)
	}

	ctx, cancel := s.ctx()
	defer cancel()
	ranges, v, err := s.client.QueryChangedRanges(ctx, stream, from, to, resolution)
	if err != nil {
		return err
	}
	for _, r := range ranges {
		fmt.Printf("[%d, %d)\n", r.Start, r.End)
	}
	fmt.Printf("%d ranges (version %d)\n", len(ranges), v)
	return nil
}

func (s *shell) cmdArchived(args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: archived <stream> <start> <end>")
	}
	stream, err := parseStream(args[0])
	if err != nil {
		return err
	}
	start, err := parseInt(args[1], "start")
	if err != nil {
		return err
	}
	end, err := parseInt(args[2], "end")
	if err != nil {
		return err
	}

	ctx, cancel := s.ctx()
	defer cancel()
	points, err := s.client.QueryArchived(ctx, stream, start, end)
	if err != nil {
		return err
	}
	for _, p := range points {
		fmt.Printf("%d  %g\n", p.Time, p.Value)
	}
	fmt.Printf("%d archived points\n", len(points))
	return nil
}

func (s *shell) cmdSQL(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: sql <query>")
	}
	query := strings.Join(args, " ")

	ctx, cancel := s.ctx()
	defer cancel()
	rows, err := s.client.QuerySQL(ctx, query)
	if err != nil {
		return err
	}

	for _, row := range rows {
		cols := make([]string, 0, len(row))
		for k := range row {
			cols = append(cols, k)
		}
		sort.Strings(cols)
		parts := make([]string, len(cols))
		for i, k := range cols {
			parts[i] = fmt.Sprintf("%s=%v", k, row[k])
		}
		fmt.Println(strings.Join(parts, "  "))
	}
	fmt.Printf("%d rows\n", len(rows))
	return nil
}

func (s *shell) cmdServer(args []string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	stats, err := s.client.ServerStats(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("uptime:           %s\n", time.Duration(stats.Uptime))
	fmt.Printf("streams:          %d\n", stats.Streams)
	fmt.Printf("sync commits:     %d\n", stats.SyncCommits)
	fmt.Printf("async commits:    %d\n", stats.AsyncCommits)
	fmt.Printf("points written:   %d\n", stats.PointsWritten)
	fmt.Printf("queries executed: %d\n", stats.QueriesExecuted)
	return nil
}

func (s *shell) cmdHelp(args []string) error {
	for _, c := range commands {
		fmt.Printf("  %-10s %-50s %s\n", c.name, c.args, c.desc)
	}
	return nil
}

// =============================================================================
// Output
// =============================================================================

func printPoints(points []types.Point, version types.Version) {
	for _, p := range points {
		fmt.Printf("%d  %g\n", p.Time, p.Value)
	}
	fmt.Printf("%d points (version %d)\n", len(points), version)
}

func printStats(stats []types.StatPoint, version types.Version) {
	for _, sp := range stats {
		line := fmt.Sprintf("[%d, %d)  count=%d min=%g mean=%g max=%g",
			sp.Start, sp.End, sp.Count, sp.Min, sp.Mean, sp.Max)
		if sp.HasPercentiles() {
			line += fmt.Sprintf(" p50=%g p90=%g p95=%g p99=%g",
				*sp.P50, *sp.P90, *sp.P95, *sp.P99)
		}
		fmt.Println(line)
	}
	fmt.Printf("%d buckets (version %d)\n", len(stats), version)
}

// =============================================================================
// Main
// =============================================================================

func main() {
	addr := flag.String("addr", "localhost:4410", "server address")
	token := flag.String("token", "", "auth token (or BERRYDB_TOKEN env; prompted if unset)")
	useTLS := flag.Bool("tls", false, "connect with TLS")
	skipVerify := flag.Bool("tls-skip-verify", false, "skip TLS certificate verification")
	timeout := flag.Duration("timeout", 30*time.Second, "request timeout")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("berrydb-cli %s\n", Version)
		return
	}

	authToken := *token
	if authToken == "" {
		authToken = os.Getenv("BERRYDB_TOKEN")
	}
	if authToken == "" {
		fmt.Fprint(os.Stderr, "token: ")
		raw, err := term.ReadPassword(int(os.Stdin.Fd()))
		fmt.Fprintln(os.Stderr)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read token: %v\n", err)
			os.Exit(1)
		}
		authToken = strings.TrimSpace(string(raw))
	}

	c := client.New(&client.Config{
		Addr:           *addr,
		Token:          authToken,
		TLS:            *useTLS,
		TLSSkipVerify:  *skipVerify,
		RequestTimeout: *timeout,
	})

	if err := c.Connect(); err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		os.Exit(1)
	}

	sh := &shell{client: c, timeout: *timeout}

	fmt.Printf("connected to %s (type 'help' for commands)\n", *addr)

	p := prompt.New(
		sh.execute,
		sh.complete,
		prompt.OptionTitle("berrydb-cli"),
		prompt.OptionPrefix("berrydb> "),
		prompt.OptionMaxSuggestion(16),
	)
	p.Run()
}
