package journal

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Models lists the tables the journal migrates.
var Models = []any{
	&Session{},
	&ConnectionEvent{},
}

// Session is one run of the streaming process.
type Session struct {
	ID        string         `json:"id" gorm:"primaryKey;size:36"`
	StartedAt time.Time      `json:"startedAt" gorm:"index"`
	EndedAt   *time.Time     `json:"endedAt"`
	Host      string         `json:"host" gorm:"size:255"`
	Version   string         `json:"version" gorm:"size:64"`
	Config    datatypes.JSON `json:"config"`
}

// ConnectionEvent is one connection state transition.
type ConnectionEvent struct {
	gorm.Model
	SessionID    string         `json:"sessionId" gorm:"size:36;index"`
	Time         time.Time      `json:"time" gorm:"index"`
	State        string         `json:"state" gorm:"size:16"`
	Previous     string         `json:"previous" gorm:"size:16"`
	EndpointKind string         `json:"endpointKind" gorm:"size:16"`
	Endpoint     string         `json:"endpoint" gorm:"size:255"`
	Reason       string         `json:"reason" gorm:"size:1024"`
	Details      datatypes.JSON `json:"details"`
}
