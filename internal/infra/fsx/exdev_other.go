//go:build !unix

package fsx

func isCrossDevice(error) bool { return false }
