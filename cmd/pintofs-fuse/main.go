//go:build fuse

// Command pintofs-fuse mounts a pintofs volume file as a FUSE filesystem.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/coresector/pintofs"
)

func main() {
	format := flag.Bool("format", false, "format the volume before mounting")
	sectors := flag.Uint("sectors", 8192, "sector count when formatting")
	flag.Parse()
	if flag.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: pintofs-fuse [-format] <volume> <mountpoint>")
		os.Exit(1)
	}
	volume, mountpoint := flag.Arg(0), flag.Arg(1)

	dev, err := pintofs.OpenFileBlockDev(volume, uint32(*sectors), *format)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pintofs-fuse:", err)
		os.Exit(1)
	}
	defer dev.Close()

	fsys, err := pintofs.New(dev)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pintofs-fuse:", err)
		os.Exit(1)
	}
	if err := fsys.Init(*format); err != nil {
		fmt.Fprintln(os.Stderr, "pintofs-fuse:", err)
		os.Exit(1)
	}
	defer fsys.Shutdown()

	server, err := pintofs.Mount(fsys, mountpoint)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pintofs-fuse:", err)
		os.Exit(1)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sig
		server.Unmount()
	}()
	server.Wait()
}
