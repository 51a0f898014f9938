package session

// Status is a point-in-time view of the session for the admin surface.
type Status struct {
	Options            string `json:"options"`
	Transport          string `json:"transport"`
	Server             bool   `json:"server"`
	Suspend            bool   `json:"suspend"`
	Connected          bool   `json:"connected"`
	Active             bool   `json:"active"`
	Peer               string `json:"peer,omitempty"`
	DdmActive          bool   `json:"ddm_active"`
	LastActivityMillis int64  `json:"last_activity_ms"`
	EventRequests      int    `json:"event_requests"`
	TokenHeld          bool   `json:"token_held"`
}

func (s *Session) Status() Status {
	return Status{
		Options:            s.opts.String(),
		Transport:          s.transport.Name(),
		Server:             s.opts.Server,
		Suspend:            s.opts.Suspend,
		Connected:          s.IsConnected(),
		Active:             s.IsActive(),
		Peer:               s.transport.RemoteAddr(),
		DdmActive:          s.DdmActive(),
		LastActivityMillis: s.LastActivityMillis(),
		EventRequests:      s.events.Len(),
		TokenHeld:          s.TokenHolder() != 0,
	}
}
