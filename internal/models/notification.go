package models

// Notification is a pre-rendered message addressed to one username.
type Notification struct {
	BaseModel
	RecipientUsername string  `gorm:"size:100;index;not null" json:"recipientUsername"`
	Message           string  `gorm:"type:text;not null" json:"message"`
	AppointmentID     *string `gorm:"size:36;index" json:"appointmentId,omitempty"`
	PaymentID         *string `gorm:"size:36;index" json:"paymentId,omitempty"`
	Read              bool    `gorm:"column:is_read;default:false;index" json:"read"`
}
