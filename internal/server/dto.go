package server

import (
	"taskdesk/internal/domain"
	"taskdesk/internal/events"
)

// Request payloads

type LoginRequest struct {
	Username string `json:"username" minLength:"1"`
	Password string `json:"password" minLength:"1"`
}

type RegisterRequest struct {
	Username   string `json:"username" minLength:"1" maxLength:"50"`
	Password   string `json:"password" minLength:"1"`
	Department string `json:"department"`
}

type CreateTaskRequest struct {
	Title        string   `json:"title"`
	Description  *string  `json:"description,omitempty"`
	Progress     *int     `json:"progress,omitempty"`
	HoursPerWeek *float64 `json:"hours_per_week,omitempty"`
	LoadPerMonth *int     `json:"load_per_month,omitempty"`
}

// UpdateTaskRequest is a partial update; absent fields are left unchanged.
type UpdateTaskRequest struct {
	Title        *string  `json:"title,omitempty"`
	Description  *string  `json:"description,omitempty"`
	Progress     *int     `json:"progress,omitempty"`
	HoursPerWeek *float64 `json:"hours_per_week,omitempty"`
	LoadPerMonth *int     `json:"load_per_month,omitempty"`
}

type CreateAccountRequest struct {
	Username   string  `json:"username" minLength:"1" maxLength:"50"`
	Password   string  `json:"password" minLength:"1"`
	Department string  `json:"department"`
	Role       *string `json:"role,omitempty" enum:"user,manager,admin"`
}

type UpdateAccountRequest struct {
	Role       *string `json:"role,omitempty"`
	Department *string `json:"department,omitempty"`
}

// Response payloads

type HealthResponse struct {
	Status        string `json:"status" example:"ok"`
	SchemaVersion int    `json:"schema_version" example:"1"`
}

type SessionResponse struct {
	Token   string         `json:"token"`
	Account domain.Account `json:"account"`
}

type TaskListResponse struct {
	Items []domain.Task `json:"items"`
}

type AccountListResponse struct {
	Items []domain.Account `json:"items"`
}

type EventListResponse struct {
	Items []events.Event `json:"items"`
}

func (r CreateTaskRequest) fields() domain.Fields {
	f := domain.Fields{domain.FieldTitle: r.Title}
	if r.Description != nil {
		f[domain.FieldDescription] = *r.Description
	}
	if r.Progress != nil {
		f[domain.FieldProgress] = *r.Progress
	}
	if r.HoursPerWeek != nil {
		f[domain.FieldHoursPerWeek] = *r.HoursPerWeek
	}
	if r.LoadPerMonth != nil {
		f[domain.FieldLoadPerMonth] = *r.LoadPerMonth
	}
	return f
}

func (r UpdateTaskRequest) fields() domain.Fields {
	f := domain.Fields{}
	if r.Title != nil {
		f[domain.FieldTitle] = *r.Title
	}
	if r.Description != nil {
		f[domain.FieldDescription] = *r.Description
	}
	if r.Progress != nil {
		f[domain.FieldProgress] = *r.Progress
	}
	if r.HoursPerWeek != nil {
		f[domain.FieldHoursPerWeek] = *r.HoursPerWeek
	}
	if r.LoadPerMonth != nil {
		f[domain.FieldLoadPerMonth] = *r.LoadPerMonth
	}
	return f
}

func (r UpdateAccountRequest) fields() domain.Fields {
	f := domain.Fields{}
	if r.Role != nil {
		f[domain.FieldRole] = *r.Role
	}
	if r.Department != nil {
		f[domain.FieldDepartment] = *r.Department
	}
	return f
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
