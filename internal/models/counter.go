package models

type Counter struct {
	CounterID     string  `json:"id" yaml:"id"`
	Name          string  `json:"name" yaml:"name"`
	ServiceID     string  `json:"service_id" yaml:"service_id"`
	IsActive      bool    `json:"is_active" yaml:"is_active"`
	CurrentTicket *string `json:"current_ticket" yaml:"-"`
}

func (c Counter) Clone() Counter {
	out := c
	out.CurrentTicket = cloneString(c.CurrentTicket)
	return out
}
