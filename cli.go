package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/renameio"
	"github.com/google/shlex"
	"github.com/pkg/errors"

	"github.com/kutluhann/p2p-file-sharing/chunk"
	"github.com/kutluhann/p2p-file-sharing/dht"
	"github.com/kutluhann/p2p-file-sharing/id_tools"
	"github.com/kutluhann/p2p-file-sharing/peer"
)

// Peer is what the shell drives.
type Peer interface {
	Share(path string) (*chunk.Manifest, error)
	Self() dht.Route
	Status() peer.Status
	Table() *dht.RoutingTable
	Registry() *peer.Registry
	Engine() *chunk.Engine
}

const help = `commands:
  <path>                      share a file
  share <path>...             share files
  get <manifest-id> <dest>    rebuild a file from locally stored fragments
  status                      show this peer
  routes                      list the routing table
  known                       list known fragment and manifest ids
  exit                        leave the network
`

type shell struct {
	peer Peer
	out  io.Writer
}

// exec runs one input line. It reports whether the user asked to quit.
func (s *shell) exec(line string) (quit bool, err error) {
	args, err := shlex.Split(line)
	if err != nil {
		return false, errors.Wrap(err, "parse command")
	}
	if len(args) == 0 {
		return false, nil
	}

	switch args[0] {
	case "exit", "quit":
		return true, nil
	case "help":
		fmt.Fprint(s.out, help)
	case "share":
		if len(args) < 2 {
			return false, errors.New("usage: share <path>...")
		}
		return false, s.share(args[1:])
	case "get":
		if len(args) != 3 {
			return false, errors.New("usage: get <manifest-id> <dest>")
		}
		return false, s.get(args[1], args[2])
	case "status":
		self := s.peer.Self()
		fmt.Fprintf(s.out, "id:       %s\ncontrol:  %s\ntransfer: %s\nstatus:   %s\nroutes:   %d\nknown:    %d\n",
			self.ID, self.Addr, self.TransferAddr, s.peer.Status(), s.peer.Table().Len(), s.peer.Registry().Len())
	case "routes":
		for _, b := range s.peer.Table().Info() {
			for _, r := range b.Routes {
				fmt.Fprintf(s.out, "%3d  %s  %s  %s\n", b.CPL, r.ID, r.Addr, r.TransferAddr)
			}
		}
	case "known":
		for _, id := range s.peer.Registry().List() {
			fmt.Fprintln(s.out, id)
		}
	default:
		return false, s.share(args)
	}
	return false, nil
}

func (s *shell) share(paths []string) error {
	var failed []string
	for _, path := range paths {
		m, err := s.peer.Share(path)
		if err != nil {
			fmt.Fprintf(s.out, "%s: %v\n", path, err)
			failed = append(failed, path)
			continue
		}
		fmt.Fprintf(s.out, "%s  %s  (%d fragments, %d bytes)\n", m.ID, m.Name, len(m.Fragments), m.Length)
	}
	if len(failed) > 0 {
		return errors.Errorf("could not share %s", strings.Join(failed, ", "))
	}
	return nil
}

func (s *shell) get(rawID, dest string) error {
	id, err := id_tools.ParseHashID(rawID)
	if err != nil {
		return err
	}
	engine := s.peer.Engine()
	m, err := engine.Manifest(id)
	if err != nil {
		return err
	}
	// dest only appears once the whole file has been assembled
	f, err := renameio.TempFile("", dest)
	if err != nil {
		return errors.Wrapf(err, "create %s", dest)
	}
	defer f.Cleanup()
	if err := engine.Assemble(m, f); err != nil {
		return err
	}
	if err := f.CloseAtomicallyReplace(); err != nil {
		return errors.Wrapf(err, "write %s", dest)
	}
	fmt.Fprintf(s.out, "%s  %d bytes\n", dest, m.Length)
	return nil
}
