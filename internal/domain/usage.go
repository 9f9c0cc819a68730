package domain

import "time"

type UsageLog struct {
	UserID        string
	TaskID        string
	Kind          string
	Mode          string
	Tier          string
	OutputPixels  int64
	ComputeTimeMS int64
	CreatedAt     time.Time
}
