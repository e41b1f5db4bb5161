package supervisor

import (
	"fmt"
	"log"
	"os/exec"
	"strings"
)

// killPortOccupant tries to get rid of whatever foreign process is listening
// on the given localhost port, by shelling out to lsof and kill. This is an
// explicit best-effort fallback for leftover backends from a previous run;
// the primary stop mechanism is always signaling the process group the
// supervisor itself created.
func killPortOccupant(port int) {
	log.Printf("Port %d is already in use, attempting to kill leftover process", port)

	out, err := exec.Command("lsof", "-t", "-i", fmt.Sprintf("tcp:%d", port)).Output()
	if err != nil {
		log.Printf("lsof lookup for port %d failed: %v", port, err)
		return
	}
	for _, pid := range strings.Fields(string(out)) {
		log.Printf("Killing leftover process %s on port %d", pid, port)
		if err := exec.Command("kill", "-9", pid).Run(); err != nil {
			log.Printf("Failed to kill leftover process %s: %v", pid, err)
		}
	}
}
