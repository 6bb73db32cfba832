package models

import "time"

type Category struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	DisplayOrder int    `json:"displayOrder"`
}

type Location struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	CategoryID int64     `json:"categoryId"`
	State      *string   `json:"state"`
	City       *string   `json:"city"`
	Address    *string   `json:"address"`
	IsActive   bool      `json:"isActive"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

type WaitTimeReport struct {
	ID              int64     `json:"id"`
	LocationID      int64     `json:"locationId"`
	WaitTimeMinutes int       `json:"waitTimeMinutes"`
	SubmittedAt     time.Time `json:"submittedAt"`
}

type QueueEntry struct {
	ID                int64      `json:"id"`
	LocationID        int64      `json:"locationId"`
	UserID            string     `json:"userId"`
	QueuePosition     int        `json:"queuePosition"`
	EstimatedWaitTime int        `json:"estimatedWaitTime"`
	JoinedAt          time.Time  `json:"joinedAt"`
	NotifiedAt        *time.Time `json:"notifiedAt"`
	CompletedAt       *time.Time `json:"completedAt"`
	Status            string     `json:"status"`
}

const (
	StatusWaiting   = "waiting"
	StatusCompleted = "completed"
)
