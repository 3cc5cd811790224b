// Command fs3mockd runs the in-memory reference controller (internal/mockctl)
// as a standalone TCP server, for exercising fs3sh against a real socket.
// The driver's tests do not use it: they run internal/mockctl on an
// in-process listener. It is
// not a production controller: spec.md §1 explicitly treats the remote
// controller as an external collaborator.
package main

import (
	"fmt"
	"net"
	"os"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"fs3drive/internal/mockctl"
	"fs3drive/internal/version"
)

func main() {
	var (
		addr       string
		sectorSize int
		maxTracks  int
		trackSize  int
		logLevel   string
		showVer    bool
	)
	flag.StringVar(&addr, "addr", "127.0.0.1:22887", "address to listen on")
	flag.IntVar(&sectorSize, "sector-size", 1024, "sector payload size in bytes")
	flag.IntVar(&maxTracks, "max-tracks", 80, "number of tracks")
	flag.IntVar(&trackSize, "track-size", 64, "sectors per track")
	flag.StringVar(&logLevel, "log-level", "info", "logrus level")
	flag.BoolVar(&showVer, "version", false, "print version and exit")
	flag.Parse()

	if showVer {
		fmt.Println(version.Get().String())
		return
	}

	log := logrus.New()
	if lvl, err := logrus.ParseLevel(logLevel); err == nil {
		log.SetLevel(lvl)
	}

	ctl := mockctl.New(sectorSize, maxTracks, trackSize, log)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		log.WithError(err).Fatal("listen failed")
	}
	log.WithField("addr", addr).Info("fs3mockd listening")
	if err := ctl.Serve(ln); err != nil {
		log.WithError(err).Error("serve exited")
		os.Exit(1)
	}
}
