package gateway

import "strings"

// Endpoints 券商 REST 与账户推送地址。
type Endpoints struct {
	RestURL          string
	AccountStreamURL string
}

var (
	ProductionEndpoints = Endpoints{
		RestURL:          "https://api.tastyworks.com",
		AccountStreamURL: "wss://streamer.tastyworks.com",
	}
	SandboxEndpoints = Endpoints{
		RestURL:          "https://api.cert.tastyworks.com",
		AccountStreamURL: "wss://streamer.cert.tastyworks.com",
	}
)

// EndpointsFor 按环境名返回地址，未知环境按 sandbox 处理。
func EndpointsFor(env string) Endpoints {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "production", "prod", "live":
		return ProductionEndpoints
	default:
		return SandboxEndpoints
	}
}
