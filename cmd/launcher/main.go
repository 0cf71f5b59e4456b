package main

import (
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
)

// --- CONFIGURATION ---
const (
	NodeCount         = 20
	StartAPIPort      = 8000 // Node 0 = 8000, Node 1 = 8001...
	StartControlPort  = 9000 // Node 0 = 9000, Node 1 = 9001...
	StartTransferPort = 9100
	Host              = "127.0.0.1"
	ProjectRoot       = "../../" // Path to the main.go file from here
	SimDir            = "sim_data"
)

var cmds []*exec.Cmd

func main() {
	absRoot, err := filepath.Abs(ProjectRoot)
	if err != nil {
		log.Fatal(err)
	}
	log.WithField("root", absRoot).Info("launcher starting")

	os.RemoveAll(SimDir)

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		log.Info("stopping all nodes")
		for _, cmd := range cmds {
			if cmd.Process != nil {
				// peers save their snapshot on interrupt
				cmd.Process.Signal(os.Interrupt)
			}
		}
		for _, cmd := range cmds {
			cmd.Wait()
		}
		os.Exit(0)
	}()

	genesis := fmt.Sprintf("%s:%d", Host, StartControlPort)

	// Genesis node seeds itself.
	startNode(0, absRoot, "self")
	time.Sleep(2 * time.Second)

	for i := 1; i < NodeCount; i++ {
		startNode(i, absRoot, genesis)
		time.Sleep(500 * time.Millisecond)
	}

	log.WithFields(log.Fields{
		"nodes":  NodeCount,
		"status": fmt.Sprintf("http://%s:%d/status", Host, StartAPIPort),
	}).Info("network is running, logs in sim_data/node_N/node.log")

	select {}
}

func startNode(id int, root, seed string) {
	nodeDir := filepath.Join(SimDir, fmt.Sprintf("node_%d", id))
	if err := os.MkdirAll(filepath.Join(nodeDir, "share"), 0755); err != nil {
		log.Fatal(err)
	}

	// go run <root> --port X --transfer-port Y --api Z --watch share <seed>
	args := []string{
		"run", root,
		"--host", Host,
		"--port", strconv.Itoa(StartControlPort + id),
		"--transfer-port", strconv.Itoa(StartTransferPort + id),
		"--api", strconv.Itoa(StartAPIPort + id),
		"--watch", "share",
		seed,
	}

	cmd := exec.Command("go", args...)
	cmd.Dir = nodeDir // fragments and the snapshot land in the node's folder

	logFile, err := os.Create(filepath.Join(nodeDir, "node.log"))
	if err != nil {
		log.Fatal(err)
	}
	cmd.Stdout = logFile
	cmd.Stderr = logFile

	if err := cmd.Start(); err != nil {
		log.Fatal(err)
	}
	cmds = append(cmds, cmd)

	log.WithFields(log.Fields{
		"node":    id,
		"control": StartControlPort + id,
		"api":     StartAPIPort + id,
	}).Info("node started")
}
