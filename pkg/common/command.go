package common

// HTTP routes của một node
const (
	RouteStatus   = "/status"
	RouteMessage  = "/message"
	RouteStart    = "/start"
	RouteStop     = "/stop"
	RouteGetState = "/getState"
	RouteMetrics  = "/metrics"
)

// Nội dung trả về của /status và các lỗi 500
const (
	StatusLive   = "live"
	StatusFaulty = "faulty"
)

const (
	DefaultHost     = "localhost"
	DefaultBasePort = 3000
)
