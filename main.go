package main

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/docopt/docopt-go"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/kutluhann/p2p-file-sharing/api"
	"github.com/kutluhann/p2p-file-sharing/config"
	"github.com/kutluhann/p2p-file-sharing/peer"
	"github.com/kutluhann/p2p-file-sharing/watch"
)

func init() {
	if os.Getenv("DEBUG") == "1" {
		log.SetLevel(log.DebugLevel)
	}
	formatter := &log.TextFormatter{FullTimestamp: true}
	formatter.TimestampFormat = "15:04:05.000"
	log.SetFormatter(formatter)
	log.SetOutput(os.Stderr)
}

const usage = `sfs-peer: share files over a peer-to-peer overlay

Usage:
  sfs-peer [options] [<seed>]
  sfs-peer -h | --help

The seed is the host:port of any peer already in the network. Give this
peer's own address (or "self") to start a new network. Without <seed>, the
first line read from stdin is used.

After joining, every line on stdin is a command; a bare path shares that file.
Type "help" for the list and "exit" to leave.

Options:
  -h --help                Show this screen.
  -c --config=<file>       Properties file with configuration keys.
  --host=<host>            Host to bind and advertise.
  --port=<port>            Control (UDP) port.
  --transfer-port=<port>   Fragment (TCP) port.
  --api=<port>             Serve the status API on this port.
  --watch=<dir>            Share every file that appears in dir.
`

type Opts struct {
	Seed         string `docopt:"<seed>"`
	Config       string `docopt:"--config"`
	Host         string `docopt:"--host"`
	Port         string `docopt:"--port"`
	TransferPort string `docopt:"--transfer-port"`
	API          string `docopt:"--api"`
	Watch        string `docopt:"--watch"`
}

func main() {
	os.Exit(run())
}

func run() (rc int) {
	parser := &docopt.Parser{HelpHandler: docopt.PrintHelpAndExit}
	o, err := parser.ParseArgs(usage, os.Args[1:], "")
	if err != nil {
		log.Error(err)
		return 22
	}
	var opts Opts
	if err := o.Bind(&opts); err != nil {
		log.Error(err)
		return 22
	}
	log.Debug(opts)

	cfg, err := config.Load(opts.Config)
	if err != nil {
		log.Fatal(err)
	}
	if err := applyFlags(&cfg, opts); err != nil {
		log.Fatal(err)
	}

	p, err := peer.New(cfg, peer.Deps{})
	if err != nil {
		log.Fatal(err)
	}
	defer func() {
		if err := p.Close(); err != nil {
			log.WithError(err).Warn("failed to save snapshot")
			rc = 1
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	lines := readLines(os.Stdin)
	seed := opts.Seed
	if seed == "" {
		fmt.Fprint(os.Stderr, "seed address: ")
		seed = <-lines
	}
	if err := p.Join(ctx, seedAddr(seed, p.Self().Addr, cfg.ControlPort)); err != nil {
		log.WithError(err).Error("join failed")
		return 1
	}

	if cfg.APIPort != 0 {
		srv := api.NewHTTPServer(p, cfg.APIPort)
		go func() {
			if err := srv.Start(); err != nil {
				log.WithError(err).Error("status API stopped")
			}
		}()
		defer srv.Shutdown()
	}

	if opts.Watch != "" {
		w, err := watch.New(opts.Watch, p.Share)
		if err != nil {
			log.Error(err)
			return 1
		}
		defer w.Close()
		go w.Run(ctx)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)

	sh := &shell{peer: p, out: os.Stdout}
	for {
		select {
		case sig := <-sigs:
			log.WithField("signal", sig).Info("shutting down")
			return 0
		case line, ok := <-lines:
			if !ok {
				log.Info("stdin closed, running until interrupted")
				lines = nil
				continue
			}
			quit, err := sh.exec(line)
			if err != nil {
				fmt.Fprintln(sh.out, "error:", err)
			}
			if quit {
				return 0
			}
		}
	}
}

// applyFlags lets command line flags override the loaded configuration.
func applyFlags(cfg *config.Config, opts Opts) error {
	if opts.Host != "" {
		cfg.Host = opts.Host
	}
	for _, f := range []struct {
		name string
		val  string
		dst  *int
	}{
		{"--port", opts.Port, &cfg.ControlPort},
		{"--transfer-port", opts.TransferPort, &cfg.TransferPort},
		{"--api", opts.API, &cfg.APIPort},
	} {
		if f.val == "" {
			continue
		}
		n, err := strconv.Atoi(f.val)
		if err != nil {
			return errors.Wrapf(config.ErrInvalid, "%s: %q is not a port", f.name, f.val)
		}
		*f.dst = n
	}
	return cfg.Validate()
}

// seedAddr expands the seed given by the user: "self" or "" means this peer,
// and a bare host gets the default control port.
func seedAddr(seed, self string, port int) string {
	switch seed {
	case "", "self":
		return self
	}
	if _, _, err := net.SplitHostPort(seed); err != nil {
		return net.JoinHostPort(seed, strconv.Itoa(port))
	}
	return seed
}

// readLines feeds stdin lines to a channel, closing it at EOF.
func readLines(f *os.File) <-chan string {
	ch := make(chan string)
	go func() {
		defer close(ch)
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			ch <- scanner.Text()
		}
	}()
	return ch
}
