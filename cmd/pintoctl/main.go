// Command pintoctl operates on a pintofs volume file from the shell:
// format, list, create, read, write, remove, and change directory.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"path"

	"github.com/coresector/pintofs"
)

const defaultSectorCount = 8192 // 4 MiB volume

func main() {
	if len(os.Args) < 3 {
		usage()
		os.Exit(1)
	}
	volume, cmd := os.Args[1], os.Args[2]
	args := os.Args[3:]

	if cmd == "format" {
		if err := doFormat(volume, args); err != nil {
			fmt.Fprintln(os.Stderr, "pintoctl:", err)
			os.Exit(1)
		}
		return
	}

	fsys, dev, err := openVolume(volume)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pintoctl:", err)
		os.Exit(1)
	}
	defer dev.Close()
	defer fsys.Shutdown()

	task := fsys.NewTask()
	defer task.Close()

	if err := run(task, fsys, cmd, args); err != nil {
		fmt.Fprintln(os.Stderr, "pintoctl:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: pintoctl <volume> <format|ls|mkdir|touch|cat|write|rm|cd> [args...]")
}

func doFormat(volume string, args []string) error {
	fset := flag.NewFlagSet("format", flag.ExitOnError)
	sectors := fset.Uint("sectors", defaultSectorCount, "sector count for new volume")
	fset.Parse(args)

	dev, err := pintofs.OpenFileBlockDev(volume, uint32(*sectors), true)
	if err != nil {
		return err
	}
	defer dev.Close()

	fsys, err := pintofs.New(dev)
	if err != nil {
		return err
	}
	return fsys.Init(true)
}

func openVolume(volume string) (*pintofs.FS, *pintofs.FileBlockDev, error) {
	dev, err := pintofs.OpenFileBlockDev(volume, 0, false)
	if err != nil {
		return nil, nil, err
	}
	fsys, err := pintofs.New(dev)
	if err != nil {
		dev.Close()
		return nil, nil, err
	}
	if err := fsys.Init(false); err != nil {
		dev.Close()
		return nil, nil, err
	}
	return fsys, dev, nil
}

func run(task *pintofs.Task, fsys *pintofs.FS, cmd string, args []string) error {
	switch cmd {
	case "ls":
		dir := "/"
		if len(args) > 0 {
			dir = args[0]
		}
		return listDir(task, dir)
	case "mkdir":
		if len(args) != 1 {
			return fmt.Errorf("usage: mkdir <path>")
		}
		return task.Mkdir(args[0])
	case "touch":
		if len(args) != 1 {
			return fmt.Errorf("usage: touch <path>")
		}
		return task.Create(args[0], 0, false)
	case "cat":
		if len(args) != 1 {
			return fmt.Errorf("usage: cat <path>")
		}
		return catFile(task, args[0])
	case "write":
		if len(args) != 1 {
			return fmt.Errorf("usage: write <path> (reads stdin)")
		}
		return writeFile(task, args[0])
	case "rm":
		if len(args) != 1 {
			return fmt.Errorf("usage: rm <path>")
		}
		return task.Remove(args[0])
	case "cd":
		if len(args) != 1 {
			return fmt.Errorf("usage: cd <path>")
		}
		return task.Chdir(args[0])
	default:
		usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func listDir(task *pintofs.Task, dir string) error {
	h, err := task.OpenDir(dir)
	if err != nil {
		return err
	}
	defer h.Close()
	for {
		name, ok, err := h.Readdir()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		fmt.Println(path.Join(dir, name))
	}
}

func catFile(task *pintofs.Task, p string) error {
	h, err := task.OpenFile(p)
	if err != nil {
		return err
	}
	defer h.Close()
	_, err = io.Copy(os.Stdout, h)
	return err
}

func writeFile(task *pintofs.Task, p string) error {
	h, err := task.OpenFile(p)
	if err != nil {
		return err
	}
	defer h.Close()
	r := bufio.NewReader(os.Stdin)
	buf := make([]byte, 4096)
	var off int64
	for {
		n, rerr := r.Read(buf)
		if n > 0 {
			if _, err := h.WriteAt(buf[:n], off); err != nil {
				return err
			}
			off += int64(n)
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return rerr
		}
	}
}

