// Package disc talks to the optical drives: tray control through eject,
// media inspection through blkid and blockdev, tray state through the
// CDROM_DRIVE_STATUS ioctl, and media-change notification through udev.
package disc
