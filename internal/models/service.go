package models

type Service struct {
	ServiceID string `json:"id" yaml:"id"`
	Code      string `json:"code" yaml:"code"`
	Name      string `json:"name" yaml:"name"`
	IsActive  bool   `json:"is_active" yaml:"is_active"`
}
