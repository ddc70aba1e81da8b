package models

import (
	"net"
	"strconv"
	"time"
)

// InstanceInfo describes the running primary launcher instance.
// This corresponds to instance.yaml in the global directory.
type InstanceInfo struct {
	Version   int       `yaml:"version"`
	Host      string    `yaml:"host"`
	Port      int       `yaml:"port"`
	PID       int       `yaml:"pid"`
	StartedAt time.Time `yaml:"started_at"`
}

// NewInstanceInfo creates instance info for the current process.
func NewInstanceInfo(host string, port, pid int) *InstanceInfo {
	return &InstanceInfo{
		Version:   1,
		Host:      host,
		Port:      port,
		PID:       pid,
		StartedAt: time.Now().UTC(),
	}
}

// Address returns host:port for dialing the instance.
func (i *InstanceInfo) Address() string {
	host := i.Host
	if host == "" {
		host = "localhost"
	}
	return net.JoinHostPort(host, strconv.Itoa(i.Port))
}
