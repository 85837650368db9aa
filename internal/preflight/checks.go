package preflight

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"autorip/internal/config"
	"autorip/internal/disc"
)

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	if path == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckSerialDevice verifies the robot serial port is a character device the
// process may open read/write.
func CheckSerialDevice(path string) Result {
	const name = "Serial port"
	if path == "" {
		return Result{Name: name, Detail: "not configured"}
	}
	info, err := os.Stat(path)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", path, err)}
	}
	if info.Mode()&os.ModeCharDevice == 0 {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: not a character device)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v; is the user in the dialout group?)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckDriveDevice reports the tray state of one optical drive.
func CheckDriveDevice(drive config.Drive) Result {
	name := fmt.Sprintf("Drive %d", drive.Index)
	status, err := disc.CheckDriveStatus(drive.Device)
	if err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: %v)", drive.Device, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (bay %d, %s)", drive.Device, drive.BayFor(), status)}
}
