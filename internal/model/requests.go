package model

// CreateAppointmentRequest is the POST /api/appointments payload
type CreateAppointmentRequest struct {
	RequesterID   string `json:"requesterId"`
	RequesterRole Role   `json:"requesterRole"`

	PatientID    string          `json:"patientId"`
	DoctorID     string          `json:"doctorId"`
	PatientName  string          `json:"patientName" binding:"max=200"`
	DoctorName   string          `json:"doctorName" binding:"max=200"`
	PatientEmail string          `json:"patientEmail" binding:"omitempty,email"`
	DoctorEmail  string          `json:"doctorEmail" binding:"omitempty,email"`
	Date         string          `json:"appointmentDate" binding:"required,ymd"`
	Time         string          `json:"appointmentTime" binding:"required,hhmm"`
	Duration     int             `json:"duration" binding:"omitempty,min=5,max=480"`
	Type         AppointmentType `json:"type"`
	Mode         AppointmentMode `json:"mode"`
	Reason       string          `json:"reason" binding:"max=2000"`
	Notes        string          `json:"notes" binding:"max=4000"`
	Location     string          `json:"location" binding:"max=500"`
}

// UpdateAppointmentRequest is the PUT /api/appointments/:id payload
type UpdateAppointmentRequest struct {
	ActorID  string           `json:"actorId"`
	Date     *string          `json:"appointmentDate" binding:"omitempty,ymd"`
	Time     *string          `json:"appointmentTime" binding:"omitempty,hhmm"`
	Duration *int             `json:"duration" binding:"omitempty,min=5,max=480"`
	Type     *AppointmentType `json:"type"`
	Mode     *AppointmentMode `json:"mode"`
	Reason   *string          `json:"reason" binding:"omitempty,max=2000"`
	Notes    *string          `json:"notes" binding:"omitempty,max=4000"`
	Location *string          `json:"location" binding:"omitempty,max=500"`
}

type ApproveRequest struct {
	DoctorID string `json:"doctorId"`
	Location string `json:"location" binding:"max=500"`
}

type RejectRequest struct {
	DoctorID string `json:"doctorId"`
	Reason   string `json:"reason" binding:"max=2000"`
}

type CompleteRequest struct {
	DoctorID string `json:"doctorId"`
}

// ListOptions narrows a role-scoped listing
type ListOptions struct {
	Statuses []AppointmentStatus
	DateFrom string
	DateTo   string
}

// AppointmentView partitions a listing for dashboards
type AppointmentView struct {
	All      []*Appointment `json:"appointments"`
	Upcoming []*Appointment `json:"upcoming"`
	History  []*Appointment `json:"history"`
}
