package model

import "time"

// A Model is a database record.
type Model interface {
	GetID() string
	SetID(id string)
	SetCreatedAt(t time.Time)
	SetUpdatedAt(t time.Time)
}

// Base holds the attributes shared by all the records.
type Base struct {
	ID        string    `json:"id"         storm:"id"`
	CreatedAt time.Time `json:"created_at" storm:"index"`
	UpdatedAt time.Time `json:"updated_at" storm:"index"`
}

func (m *Base) GetID() string {
	return m.ID
}

func (m *Base) SetID(id string) {
	m.ID = id
}

func (m *Base) SetCreatedAt(t time.Time) {
	m.CreatedAt = t
}

func (m *Base) SetUpdatedAt(t time.Time) {
	m.UpdatedAt = t
}
