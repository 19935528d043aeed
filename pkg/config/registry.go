package config

// Persistent state keys (Registry)
const (
	KeyDeviceID      = "device_id"
	KeyRegisteredAt  = "registered_at"
	KeyUName         = "uname"
	KeyName          = "name"
	KeyCN            = "cn"
	KeyGlider        = "glider"
	KeyTail          = "tail"
	KeyQuickMessages = "quick_messages"
	KeyDebug         = "debug"
	KeyAPIURL        = "api_url"
)

// MaxQuickMessages is how many recent messages are remembered.
const MaxQuickMessages = 8
