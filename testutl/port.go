package testutl

import (
	"log/slog"
	"net"
)

// GetPort returns a free TCP port on the loopback interface.
func GetPort() int {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	port := lis.Addr().(*net.TCPAddr).Port
	if err := lis.Close(); err != nil {
		slog.Error(err.Error())
	}
	return port
}
