//go:build !linux

package zfs

const mountZFSUtilOption = ""
