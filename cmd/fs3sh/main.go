// Command fs3sh is an interactive console for driving the fs3drive
// client: mount, open, read, write, seek, close, unmount, stat and
// metrics. It is grounded on calvinalkan-agent-task/cmd/sloty/main.go's
// liner-based REPL over a small binary-format cache tool.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/natefinch/atomic"
	"github.com/peterh/liner"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"fs3drive/internal/cache"
	"fs3drive/internal/config"
	"fs3drive/internal/driver"
	"fs3drive/internal/session"
	"fs3drive/internal/version"
)

func main() {
	var (
		configPath  string
		peerHost    string
		peerPort    int
		cacheSize   int
		logLevel    string
		metricsAddr string
		showVer     bool
	)
	flag.StringVar(&configPath, "config", "fs3drive.jwcc", "path to a JWCC config file")
	flag.StringVar(&peerHost, "peer", "", "override the controller host")
	flag.IntVar(&peerPort, "port", 0, "override the controller port")
	flag.IntVar(&cacheSize, "cache-size", 0, "override the sector cache capacity")
	flag.StringVar(&logLevel, "log-level", "", "override the logrus level")
	flag.StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus /metrics on this address")
	flag.BoolVar(&showVer, "version", false, "print version and exit")
	flag.Parse()

	if showVer {
		fmt.Println(version.Get().String())
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}
	if peerHost != "" {
		cfg.PeerHost = peerHost
	}
	if peerPort != 0 {
		cfg.PeerPort = peerPort
	}
	if cacheSize != 0 {
		cfg.CacheCapacity = cacheSize
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "invalid config:", err)
		os.Exit(1)
	}

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		log.SetLevel(lvl)
	}

	sess := session.New(cfg.Addr(), cfg.SectorSize,
		time.Duration(cfg.DialTimeoutMS)*time.Millisecond,
		time.Duration(cfg.IOTimeoutMS)*time.Millisecond, log)
	reg := prometheus.NewRegistry()
	c, err := cache.New(cfg.CacheCapacity, reg, log)
	if err != nil {
		fmt.Fprintln(os.Stderr, "init cache:", err)
		os.Exit(1)
	}
	d := driver.New(cfg, sess, c, log)

	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.WithError(err).Error("metrics server exited")
			}
		}()
		log.WithField("addr", metricsAddr).Info("serving /metrics")
	}

	r := &repl{driver: d, cache: c, log: log}
	if err := r.run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type repl struct {
	driver *driver.Driver
	cache  *cache.Cache
	log    logrus.FieldLogger
	liner  *liner.State
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".fs3sh_history")
}

func (r *repl) run() error {
	r.liner = liner.NewLiner()
	defer r.liner.Close()
	r.liner.SetCtrlCAborts(true)

	if f, err := os.Open(historyFile()); err == nil {
		r.liner.ReadHistory(f)
		f.Close()
	}

	fmt.Println("fs3sh - fs3drive console. Type 'help' for commands.")

	for {
		line, err := r.liner.Prompt("fs3> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				fmt.Println("\nbye")
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		r.liner.AppendHistory(line)

		parts := strings.Fields(line)
		cmd := strings.ToLower(parts[0])
		args := parts[1:]

		switch cmd {
		case "exit", "quit", "q":
			r.saveHistory()
			return nil
		case "help", "?":
			r.printHelp()
		case "mount":
			r.cmdMount()
		case "unmount":
			r.cmdUnmount()
		case "open":
			r.cmdOpen(args)
		case "close":
			r.cmdClose(args)
		case "seek":
			r.cmdSeek(args)
		case "read":
			r.cmdRead(args)
		case "write":
			r.cmdWrite(args)
		case "stat":
			r.cmdStat(args)
		case "metrics":
			r.cmdMetrics(args)
		default:
			fmt.Printf("unknown command: %s (type 'help')\n", cmd)
		}
	}
	r.saveHistory()
	return nil
}

func (r *repl) saveHistory() {
	if path := historyFile(); path != "" {
		if f, err := os.Create(path); err == nil {
			r.liner.WriteHistory(f)
			f.Close()
		}
	}
}

func (r *repl) printHelp() {
	fmt.Println(`commands:
  mount                       mount the disk
  unmount                     unmount the disk
  open <path>                 open (or create) a file, prints its handle
  close <handle>               close a file
  seek <handle> <loc>          reposition a file's cursor
  read <handle> <count>        read count bytes and print them
  write <handle> <text>        write text (as bytes) to a file
  stat <handle>                print name/length/position/open
  metrics                      print cache metrics
  metrics dump <path>          write a metrics snapshot to path
  exit | quit | q               leave the shell`)
}

func (r *repl) cmdMount() {
	if err := r.driver.Mount(); err != nil {
		fmt.Println("mount failed:", err)
		return
	}
	fmt.Println("mounted")
}

func (r *repl) cmdUnmount() {
	if err := r.driver.Unmount(); err != nil {
		fmt.Println("unmount failed:", err)
		return
	}
	fmt.Println("unmounted")
}

func (r *repl) cmdOpen(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: open <path>")
		return
	}
	h, err := r.driver.Open(args[0])
	if err != nil {
		fmt.Println("open failed:", err)
		return
	}
	fmt.Println("handle:", h)
}

func (r *repl) cmdClose(args []string) {
	h, ok := parseHandle(args)
	if !ok {
		return
	}
	if err := r.driver.Close(h); err != nil {
		fmt.Println("close failed:", err)
		return
	}
	fmt.Println("closed")
}

func (r *repl) cmdSeek(args []string) {
	if len(args) != 2 {
		fmt.Println("usage: seek <handle> <loc>")
		return
	}
	h, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Println("bad handle:", err)
		return
	}
	loc, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Println("bad loc:", err)
		return
	}
	if err := r.driver.Seek(h, loc); err != nil {
		fmt.Println("seek failed:", err)
		return
	}
	fmt.Println("ok")
}

func (r *repl) cmdRead(args []string) {
	if len(args) != 2 {
		fmt.Println("usage: read <handle> <count>")
		return
	}
	h, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Println("bad handle:", err)
		return
	}
	count, err := strconv.Atoi(args[1])
	if err != nil {
		fmt.Println("bad count:", err)
		return
	}
	buf := make([]byte, count)
	n, err := r.driver.Read(h, buf, count)
	if err != nil {
		fmt.Println("read failed:", err)
		return
	}
	fmt.Printf("read %d bytes: %q\n", n, buf[:n])
}

func (r *repl) cmdWrite(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: write <handle> <text>")
		return
	}
	h, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Println("bad handle:", err)
		return
	}
	text := strings.Join(args[1:], " ")
	n, err := r.driver.Write(h, []byte(text), len(text))
	if err != nil {
		fmt.Println("write failed:", err)
		return
	}
	fmt.Printf("wrote %d bytes\n", n)
}

func (r *repl) cmdStat(args []string) {
	h, ok := parseHandle(args)
	if !ok {
		return
	}
	info, err := r.driver.Stat(h)
	if err != nil {
		fmt.Println("stat failed:", err)
		return
	}
	fmt.Printf("name=%q length=%d position=%d open=%v\n", info.Name, info.Length, info.Position, info.Open)
}

func (r *repl) cmdMetrics(args []string) {
	m := r.cache.LogMetrics()
	if len(args) == 2 && args[0] == "dump" {
		snapshot := fmt.Sprintf("inserts=%d\ngets=%d\nhits=%d\nmisses=%d\nhit_ratio_percent=%.2f\n",
			m.Inserts, m.Gets, m.Hits, m.Misses, m.HitRatioPercent)
		if err := atomic.WriteFile(args[1], strings.NewReader(snapshot)); err != nil {
			fmt.Println("dump failed:", err)
			return
		}
		fmt.Println("wrote", args[1])
		return
	}
	fmt.Printf("inserts=%d gets=%d hits=%d misses=%d hit_ratio=%.1f%%\n",
		m.Inserts, m.Gets, m.Hits, m.Misses, m.HitRatioPercent)
}

func parseHandle(args []string) (int, bool) {
	if len(args) != 1 {
		fmt.Println("usage: <cmd> <handle>")
		return 0, false
	}
	h, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Println("bad handle:", err)
		return 0, false
	}
	return h, true
}
