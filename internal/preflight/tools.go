package preflight

import (
	"fmt"
	"os/exec"
	"strings"
)

// Tool is an external command the imaging path shells out to.
type Tool struct {
	Name    string
	Command string
	Purpose string
}

// ImagingTools lists the commands used to move trays, probe media, and image
// discs. ddrescue is the configured binary.
func ImagingTools(ddrescue string) []Tool {
	return []Tool{
		{Name: "ddrescue", Command: ddrescue, Purpose: "images discs"},
		{Name: "eject", Command: "eject", Purpose: "opens and closes drive trays"},
		{Name: "blkid", Command: "blkid", Purpose: "detects media and reads disc labels"},
		{Name: "blockdev", Command: "blockdev", Purpose: "reads the disc block size"},
	}
}

// CheckTool resolves tool on PATH. The detail of a passing result is the
// resolved executable.
func CheckTool(tool Tool) Result {
	result := Result{Name: tool.Name}
	cmd := strings.TrimSpace(tool.Command)
	if cmd == "" {
		result.Detail = "command not configured"
		return result
	}
	path, err := exec.LookPath(cmd)
	if err != nil {
		result.Detail = fmt.Sprintf("%q not found on PATH (%s)", cmd, tool.Purpose)
		return result
	}
	result.Passed = true
	result.Detail = path
	return result
}
