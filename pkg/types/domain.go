package types

// CacheInfo describes a session cache file on disk.
type CacheInfo struct {
	// Cache id, the file name without extension.
	// example: assistant
	ID string `json:"id" example:"assistant"`
	// Absolute path of the file.
	// example: /home/user/.cache/loopd/assistant.session
	Path string `json:"path" example:"/home/user/.cache/loopd/assistant.session"`
	// example: 1048576
	SizeBytes int64 `json:"size_bytes" example:"1048576"`
	// Human readable size.
	// example: 1.0 MB
	Size string `json:"size" example:"1.0 MB"`
	// Last modification (unix seconds).
	// example: 1700000000
	ModifiedUnix int64 `json:"modified_unix" example:"1700000000"`
	// ID of the live session using this cache, if any.
	InUseBy string `json:"in_use_by,omitempty"`
}
