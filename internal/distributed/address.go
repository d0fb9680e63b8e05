package distributed

import (
	"fmt"
	"net"
)

func addressOf(ip [4]byte, port uint16) string {
	return net.JoinHostPort(fmt.Sprintf("%d.%d.%d.%d", ip[0], ip[1], ip[2], ip[3]), fmt.Sprint(port))
}
