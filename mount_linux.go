//go:build linux

package zfs

// Mounting a dataset whose mountpoint is not legacy needs the zfsutil option on Linux
const mountZFSUtilOption = "zfsutil"
