package id_tools

import (
	"crypto/rand"
	"math/big"
	"net"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
)

// NewPeerHashID generates a fresh peer identifier from the current time, a
// hardware address of this host and a random number.
func NewPeerHashID(d *Deriver) HashID {
	var seed strings.Builder

	seed.WriteString(strconv.FormatInt(time.Now().UnixMilli(), 10))
	seed.WriteString(hardwareAddr())

	n, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		log.WithError(err).Warn("random source unavailable, identifier seed uses time and MAC only")
	} else {
		seed.WriteString(n.String())
	}

	return d.DeriveString(seed.String())
}

// hardwareAddr returns the first non-loopback MAC address found, or an empty
// string.
func hardwareAddr() string {
	ifaces, err := net.Interfaces()
	if err != nil {
		log.WithError(err).Debug("listing network interfaces")
		return ""
	}
	for _, iface := range ifaces {
		if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
			continue
		}
		return iface.HardwareAddr.String()
	}
	return ""
}
